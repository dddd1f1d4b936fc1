package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Counter backends.
const (
	CounterDatabase = "database"
	CounterRedis    = "redis"
)

// Trainer types.
const (
	TrainerCommand = "command"
	TrainerHTTP    = "http"
	TrainerNone    = "none"
)

// DefaultPath is where the service looks for its configuration.
const DefaultPath = "configs/config.yml"

// Config holds application configuration
type Config struct {
	Server struct {
		Port               string        `yaml:"port"`
		Mode               string        `yaml:"mode"` // gin mode
		CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
		ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Auth struct {
		Token       string `yaml:"token"`        // admin endpoints
		PublicToken string `yaml:"public_token"` // challenge endpoint
	} `yaml:"auth"`

	Database struct {
		Type string `yaml:"type"` // "sqlite" or "postgres"
		Path string `yaml:"path"` // sqlite file
		URL  string `yaml:"url"`  // postgres DSN
	} `yaml:"database"`

	Signing struct {
		KeyDir   string        `yaml:"key_dir"`
		KeyBits  int           `yaml:"key_bits"`
		TokenTTL time.Duration `yaml:"token_ttl"`
	} `yaml:"signing"`

	Classifier struct {
		ArtifactPath  string  `yaml:"artifact_path"`
		FallbackScore float64 `yaml:"fallback_score"`
	} `yaml:"classifier"`

	Retrain RetrainConfig `yaml:"retrain"`

	Session struct {
		CookieName string `yaml:"cookie_name"`
		MaxAge     int    `yaml:"max_age"`
		Secure     bool   `yaml:"secure"`
		HTTPOnly   bool   `yaml:"http_only"`
	} `yaml:"session"`

	Logging struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"logging"`
}

// RetrainConfig configures the request counter and the external trainer.
type RetrainConfig struct {
	Threshold int64 `yaml:"threshold"`

	Counter struct {
		Backend       string `yaml:"backend"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
		RedisDB       int    `yaml:"redis_db"`
		RedisKey      string `yaml:"redis_key"`
	} `yaml:"counter"`

	Trainer struct {
		Type    string        `yaml:"type"`
		Command string        `yaml:"command"`
		Args    []string      `yaml:"args"`
		WorkDir string        `yaml:"work_dir"`
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"trainer"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	cfg := &Config{}
	cfg.Classifier.FallbackScore = 0.5
	cfg.Session.HTTPOnly = true
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from YAML file
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()

	// Expand environment variables in secrets
	config.Auth.Token = os.ExpandEnv(config.Auth.Token)
	config.Auth.PublicToken = os.ExpandEnv(config.Auth.PublicToken)
	config.Database.URL = os.ExpandEnv(config.Database.URL)
	config.Retrain.Counter.RedisAddr = os.ExpandEnv(config.Retrain.Counter.RedisAddr)
	config.Retrain.Counter.RedisPassword = os.ExpandEnv(config.Retrain.Counter.RedisPassword)
	config.Retrain.Trainer.URL = os.ExpandEnv(config.Retrain.Trainer.URL)

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "5000"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if len(c.Server.CORSAllowedOrigins) == 0 {
		c.Server.CORSAllowedOrigins = []string{"*"}
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/interactions.db"
	}

	if c.Signing.KeyDir == "" {
		c.Signing.KeyDir = "./signing-keys"
	}
	if c.Signing.KeyBits == 0 {
		c.Signing.KeyBits = 2048
	}

	if c.Classifier.ArtifactPath == "" {
		c.Classifier.ArtifactPath = "./model/model.json"
	}

	if c.Retrain.Threshold == 0 {
		c.Retrain.Threshold = 10000
	}
	if c.Retrain.Counter.Backend == "" {
		c.Retrain.Counter.Backend = CounterDatabase
	}
	if c.Retrain.Counter.RedisKey == "" {
		c.Retrain.Counter.RedisKey = "aicaptcha:request_counter"
	}
	if c.Retrain.Trainer.Type == "" {
		c.Retrain.Trainer.Type = TrainerNone
	}
	if c.Retrain.Trainer.WorkDir == "" {
		c.Retrain.Trainer.WorkDir = "./model"
	}
	if c.Retrain.Trainer.Timeout == 0 {
		c.Retrain.Trainer.Timeout = 30 * time.Minute
	}

	if c.Session.CookieName == "" {
		c.Session.CookieName = "session_id"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// DatabaseSource is the file path for sqlite and the DSN for postgres.
func (c *Config) DatabaseSource() string {
	if c.Database.Type == "postgres" {
		return c.Database.URL
	}
	return c.Database.Path
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.Token == "" {
		errs = append(errs, errors.New("auth.token is required"))
	}
	if c.Auth.PublicToken == "" {
		errs = append(errs, errors.New("auth.public_token is required"))
	}

	switch c.Database.Type {
	case "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.type %q", c.Database.Type))
	}

	if c.Signing.KeyBits < 2048 {
		errs = append(errs, fmt.Errorf("signing.key_bits must be at least 2048, got %d", c.Signing.KeyBits))
	}
	if c.Signing.TokenTTL < 0 {
		errs = append(errs, errors.New("signing.token_ttl must not be negative"))
	}

	if s := c.Classifier.FallbackScore; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("classifier.fallback_score must be within [0, 1], got %v", s))
	}

	if c.Retrain.Threshold < 1 {
		errs = append(errs, fmt.Errorf("retrain.threshold must be positive, got %d", c.Retrain.Threshold))
	}
	switch c.Retrain.Counter.Backend {
	case CounterDatabase:
	case CounterRedis:
		if c.Retrain.Counter.RedisAddr == "" {
			errs = append(errs, errors.New("retrain.counter.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown retrain.counter.backend %q", c.Retrain.Counter.Backend))
	}
	switch c.Retrain.Trainer.Type {
	case TrainerNone:
	case TrainerCommand:
		if c.Retrain.Trainer.Command == "" {
			errs = append(errs, errors.New("retrain.trainer.command is required for the command trainer"))
		}
	case TrainerHTTP:
		if c.Retrain.Trainer.URL == "" {
			errs = append(errs, errors.New("retrain.trainer.url is required for the http trainer"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown retrain.trainer.type %q", c.Retrain.Trainer.Type))
	}

	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("unknown server.mode %q", c.Server.Mode))
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("invalid logging.level: %w", err))
	}

	return errors.Join(errs...)
}
