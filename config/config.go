package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	BindAddress string `env:"BIND_ADDRESS" envDefault:"0.0.0.0"`
	GinMode     string `env:"GIN_MODE" envDefault:"release"`

	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// StoreDriver is "redis" or "memory"; BusDriver is "redis", "nats" or
	// "local". The memory store and local bus only work on a single node.
	StoreDriver string `env:"STORE_DRIVER" envDefault:"redis"`
	BusDriver   string `env:"BUS_DRIVER" envDefault:"redis"`
	NatsURL     string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	BusPrefix   string `env:"BUS_PREFIX" envDefault:"partyhost.rooms"`

	RoomTTL         time.Duration `env:"ROOM_TTL" envDefault:"24h"`
	RoomKeyPrefix   string        `env:"ROOM_KEY_PREFIX" envDefault:"room:"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`
	DisconnectGrace time.Duration `env:"DISCONNECT_GRACE" envDefault:"10s"`
	MaxRetries      int           `env:"MAX_RETRIES" envDefault:"5"`
	TimerRetry      time.Duration `env:"TIMER_RETRY" envDefault:"5s"`
	DefaultGame     string        `env:"DEFAULT_GAME" envDefault:"ITO"`
	EnigmaRoundTime time.Duration `env:"ENIGMA_ROUND_TIME" envDefault:"90s"`
	SpyRoundTime    time.Duration `env:"SPY_ROUND_TIME" envDefault:"8m"`

	// JWTSecret enables verified player identities on /ws and protects the
	// deck admin endpoints. Empty means anonymous play only.
	JWTSecret string `env:"JWT_SECRET"`

	ContentDatabaseURL string `env:"CONTENT_DATABASE_URL"`
	OtelEndpoint       string `env:"OTEL_ENDPOINT"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be redis or memory, got %q", c.StoreDriver))
	}
	switch c.BusDriver {
	case "redis", "nats", "local":
	default:
		errs = append(errs, fmt.Errorf("BUS_DRIVER must be redis, nats or local, got %q", c.BusDriver))
	}
	if c.StoreDriver == "memory" && c.BusDriver != "local" {
		errs = append(errs, errors.New("the memory store only works with BUS_DRIVER=local"))
	}
	if c.RoomTTL <= 0 {
		errs = append(errs, errors.New("ROOM_TTL must be positive"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.DisconnectGrace < 0 {
		errs = append(errs, errors.New("DISCONNECT_GRACE cannot be negative"))
	}
	if c.TimerRetry <= 0 {
		errs = append(errs, errors.New("TIMER_RETRY must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return c.BindAddress + ":" + c.Port
}

// InitDB opens the optional content database.
func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.ContentDatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func InitRedis(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.StoreTimeout,
		ReadTimeout:  cfg.StoreTimeout,
		WriteTimeout: cfg.StoreTimeout,
	})
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}
