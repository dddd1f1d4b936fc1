package cli

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"aicaptcha/internal/classifier"
	"aicaptcha/internal/config"
	"aicaptcha/internal/repository"
	"aicaptcha/internal/retrain"
	"aicaptcha/internal/signing"
	"aicaptcha/internal/trainer"
)

// counterName is the row of the counters table holding the request counter.
const counterName = "request_counter"

// loadConfig reads and validates the configuration file.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Logging.Development {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

// app holds the components shared by every command.
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	db           *sqlx.DB
	rdb          *redis.Client
	interactions *repository.InteractionRepository
	model        *classifier.Classifier
	retrainer    *retrain.Retrainer
}

// openStore connects to the configured database.
func openStore(cfg *config.Config, logger *zap.Logger) (*sqlx.DB, *repository.InteractionRepository, error) {
	db, err := repository.NewDB(cfg.Database.Type, cfg.DatabaseSource(), logger)
	if err != nil {
		return nil, nil, err
	}
	return db, repository.NewInteractionRepository(db, logger), nil
}

// newApp opens the store, loads the persisted model and builds the retrainer.
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, interactions, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	model := classifier.New(cfg.Classifier.FallbackScore, logger)
	if err := model.LoadFile(cfg.Classifier.ArtifactPath); err != nil {
		logger.Error("Failed to load model artifact, serving the fallback score",
			zap.String("path", cfg.Classifier.ArtifactPath), zap.Error(err))
	}

	tr, err := newTrainer(cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		interactions: interactions,
		model:        model,
		retrainer: retrain.NewRetrainer(interactions, tr, model,
			cfg.Classifier.ArtifactPath, cfg.Retrain.Trainer.Timeout, logger),
	}, nil
}

// newCounter builds the request counter for the configured backend.
func (a *app) newCounter(ctx context.Context) (retrain.Counter, error) {
	rc := a.cfg.Retrain.Counter
	if rc.Backend == config.CounterRedis {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     rc.RedisAddr,
			Password: rc.RedisPassword,
			DB:       rc.RedisDB,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.logger.Info("Using redis request counter",
			zap.String("addr", rc.RedisAddr), zap.String("key", rc.RedisKey))
		return retrain.NewRedisCounter(a.rdb, rc.RedisKey, a.cfg.Retrain.Threshold)
	}

	c, err := retrain.NewLocalCounter(ctx, repository.NewCounterRepository(a.db), counterName, a.cfg.Retrain.Threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to restore request counter: %w", err)
	}
	return c, nil
}

func (a *app) newAuthority() (*signing.Authority, error) {
	return signing.LoadOrGenerate(a.cfg.Signing.KeyDir, a.cfg.Signing.KeyBits, a.logger,
		signing.WithTokenTTL(a.cfg.Signing.TokenTTL))
}

func (a *app) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	a.db.Close()
}

// newTrainer returns nil for the "none" trainer.
func newTrainer(cfg *config.Config, logger *zap.Logger) (trainer.Trainer, error) {
	tc := cfg.Retrain.Trainer
	switch tc.Type {
	case config.TrainerCommand:
		return trainer.NewCommandTrainer(tc.Command, tc.Args, tc.WorkDir, logger), nil
	case config.TrainerHTTP:
		return trainer.NewHTTPTrainer(tc.URL, tc.Timeout), nil
	case config.TrainerNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown trainer type %q", tc.Type)
	}
}
