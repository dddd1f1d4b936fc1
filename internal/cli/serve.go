package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"aicaptcha/internal/config"
	"aicaptcha/internal/handler"
	"aicaptcha/internal/middleware"
	"aicaptcha/internal/retrain"
	"aicaptcha/internal/service"
)

// NewServeCmd creates the 'serve' command.
func NewServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		Long: `Start the challenge service. It serves the challenge, store and label
endpoints, retrains the classifier in the background whenever the labeled
write counter reaches its threshold, and shuts down gracefully on SIGINT or
SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, logger)
		},
	}
}

// runServer serves HTTP until ctx is done.
func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting aicaptcha service...")

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()
	counter, err := a.newCounter(initCtx)
	if err != nil {
		return err
	}
	authority, err := a.newAuthority()
	if err != nil {
		return err
	}

	trigger := retrain.NewTrigger(counter, a.retrainer, logger)
	challenges := service.NewChallengeService(a.interactions, a.model, authority, trigger, logger)
	records := service.NewRecordService(a.interactions, trigger, logger)

	apiHandler := handler.NewHandler(challenges, records, authority, a.model, a.retrainer, handler.Options{
		AuthToken:   cfg.Auth.Token,
		PublicToken: cfg.Auth.PublicToken,
		Cookie: handler.CookieOptions{
			Name:     cfg.Session.CookieName,
			MaxAge:   cfg.Session.MaxAge,
			Secure:   cfg.Session.Secure,
			HTTPOnly: cfg.Session.HTTPOnly,
		},
	}, logger)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.retrainer.Run(workerCtx)
	}()
	defer func() {
		stopWorker()
		wg.Wait()
	}()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: newRouter(cfg, apiHandler, logger),
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	logger.Info("aicaptcha service is running",
		zap.String("port", cfg.Server.Port),
		zap.Bool("model_loaded", a.model.Current() != nil),
		zap.String("trainer", cfg.Retrain.Trainer.Type),
		zap.Int64("retrain_threshold", cfg.Retrain.Threshold))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}

func newRouter(cfg *config.Config, h *handler.Handler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestLogger(logger),
		middleware.CORS(cfg.Server.CORSAllowedOrigins),
	)
	h.RegisterRoutes(router)
	return router
}
