package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	dbconfig "mindlink/pkg/database"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MINDLINK_"

// EnvFileVar names the dotenv file to load before parsing the environment.
const EnvFileVar = EnvPrefix + "ENV_FILE"

const defaultEnvFile = ".env"

// Config is the full service configuration, one section per component.
type Config struct {
	Database  *DatabaseConfig  `envPrefix:"DATABASE_"`
	HTTP      *HTTPConfig      `envPrefix:"HTTP_"`
	WebSocket *WebSocketConfig `envPrefix:"WEBSOCKET_"`
	Auth      *AuthConfig      `envPrefix:"AUTH_"`
	RateLimit *RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Hub       *HubConfig       `envPrefix:"HUB_"`
	Analytics *AnalyticsConfig `envPrefix:"ANALYTICS_"`
	Redis     *RedisConfig     `envPrefix:"REDIS_"`
	Log       *LogConfig       `envPrefix:"LOG_"`
}

type DatabaseConfig struct {
	Driver         string        `env:"DRIVER"`
	Path           string        `env:"PATH"`
	URL            string        `env:"URL"`
	MaxConnections int           `env:"MAX_CONNECTIONS"`
	Timeout        time.Duration `env:"TIMEOUT"`
	RetryDelay     time.Duration `env:"RETRY_DELAY"`
}

type HTTPConfig struct {
	Host            string        `env:"HOST"`
	Port            int           `env:"PORT"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

// WebSocketConfig is tuned for classroom-sized rooms with a 30s heartbeat.
type WebSocketConfig struct {
	PingInterval   time.Duration `env:"PING_INTERVAL"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT"`
	BufferSize     int           `env:"BUFFER_SIZE"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	Issuer    string `env:"ISSUER"`
}

type RateLimitConfig struct {
	SweepInterval time.Duration `env:"SWEEP_INTERVAL"`
}

// HubConfig sizes the asynchronous sample persistence pipeline.
type HubConfig struct {
	PersistWorkers int           `env:"PERSIST_WORKERS"`
	QueueSize      int           `env:"QUEUE_SIZE"`
	PersistTimeout time.Duration `env:"PERSIST_TIMEOUT"`
}

type AnalyticsConfig struct {
	Timeout    time.Duration `env:"TIMEOUT"`
	BucketSize time.Duration `env:"BUCKET_SIZE"`
	CacheTTL   time.Duration `env:"CACHE_TTL"`
}

// RedisConfig enables the metrics hot cache when Addr is set.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"`
}

type LogConfig struct {
	Level       string `env:"LEVEL"`
	Development bool   `env:"DEVELOPMENT"`
}

// DefaultConfig returns settings suitable for a single-node classroom deployment.
// The JWT secret has no default and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:         dbconfig.DriverSQLite,
			Path:           "./data/mindlink.db",
			MaxConnections: 10,
			Timeout:        30 * time.Second,
			RetryDelay:     5 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			BufferSize:   100,
		},
		Auth: &AuthConfig{},
		RateLimit: &RateLimitConfig{
			SweepInterval: 5 * time.Minute,
		},
		Hub: &HubConfig{
			PersistWorkers: 4,
			QueueSize:      1000,
			PersistTimeout: 10 * time.Second,
		},
		Analytics: &AnalyticsConfig{
			Timeout:    30 * time.Second,
			BucketSize: 5 * time.Minute,
			CacheTTL:   10 * time.Minute,
		},
		Redis: &RedisConfig{},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Auth == nil ||
		c.RateLimit == nil || c.Hub == nil || c.Analytics == nil || c.Redis == nil || c.Log == nil {
		return errors.New("all configuration sections are required")
	}

	if err := c.StoreConfig().Validate(); err != nil {
		return err
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}

	// Port 0 binds an ephemeral port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return errors.New("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required (set %sAUTH_JWT_SECRET)", EnvPrefix)
	}

	if c.RateLimit.SweepInterval <= 0 {
		return errors.New("rate limit sweep interval must be positive")
	}

	if c.Hub.PersistWorkers <= 0 {
		return errors.New("hub persist workers must be positive")
	}
	if c.Hub.QueueSize <= 0 {
		return errors.New("hub queue size must be positive")
	}
	if c.Hub.PersistTimeout <= 0 {
		return errors.New("hub persist timeout must be positive")
	}

	if c.Analytics.Timeout <= 0 {
		return errors.New("analytics timeout must be positive")
	}
	if c.Analytics.BucketSize <= 0 {
		return errors.New("analytics bucket size must be positive")
	}
	if c.Analytics.CacheTTL < 0 {
		return errors.New("analytics cache TTL cannot be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// StoreConfig converts the database section for the storage layer.
func (c *Config) StoreConfig() *dbconfig.Config {
	store := dbconfig.DefaultConfig()
	store.Driver = c.Database.Driver
	store.DatabasePath = c.Database.Path
	store.DatabaseURL = c.Database.URL
	store.MaxConnections = c.Database.MaxConnections
	store.RetryDelay = c.Database.RetryDelay
	return store
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv overlays MINDLINK_* environment variables on the defaults.
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("environment variables are invalid: %w", err)
	}
	return config, nil
}

// LoadConfigWithPrecedence resolves process environment > dotenv file > defaults
// and validates the result. An empty envFile falls back to MINDLINK_ENV_FILE,
// then ".env"; only an explicitly named file is required to exist.
func LoadConfigWithPrecedence(envFile string) (*Config, error) {
	explicit := true
	if envFile == "" {
		envFile = os.Getenv(EnvFileVar)
	}
	if envFile == "" {
		envFile = defaultEnvFile
		explicit = false
	}

	// godotenv never overrides variables already present in the process.
	if err := godotenv.Load(envFile); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	config, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
