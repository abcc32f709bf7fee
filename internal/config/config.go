package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Upload   UploadConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	AllowOrigins string
}

type LogConfig struct {
	Level string
}

// DatabaseConfig leaves URL empty to run on the in-memory store.
type DatabaseConfig struct {
	URL string
}

type CacheConfig struct {
	RedisURL string
	FeedTTL  time.Duration
}

type UploadConfig struct {
	Dir           string
	PublicBaseURL string
	MaxBytes      int64
}

// AuthConfig leaves JWTSecret empty to trust the external id in the path.
type AuthConfig struct {
	JWTSecret string
}

func (c *Config) Addr() string {
	return ":" + c.Server.Port
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(strings.TrimSpace(c.Server.Env), "development")
}

// Load reads configuration from the environment, optionally layered over the
// file named by CONFIG_FILE.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "5000")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("FEED_CACHE_TTL", "60s")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:5000")
	v.SetDefault("MAX_UPLOAD_BYTES", 5*1024*1024)
	v.SetDefault("CORS_ALLOW_ORIGINS", "*")

	if p := os.Getenv("CONFIG_FILE"); p != "" {
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         strings.TrimSpace(v.GetString("PORT")),
			Env:          strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
			AllowOrigins: v.GetString("CORS_ALLOW_ORIGINS"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
		Database: DatabaseConfig{
			URL: strings.TrimSpace(v.GetString("DATABASE_URL")),
		},
		Cache: CacheConfig{
			RedisURL: strings.TrimSpace(v.GetString("REDIS_URL")),
			FeedTTL:  v.GetDuration("FEED_CACHE_TTL"),
		},
		Upload: UploadConfig{
			Dir:           v.GetString("UPLOAD_DIR"),
			PublicBaseURL: strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
			MaxBytes:      v.GetInt64("MAX_UPLOAD_BYTES"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("AUTH_JWT_SECRET"),
		},
	}

	if cfg.Server.Port == "" {
		return nil, fmt.Errorf("PORT must not be empty")
	}
	if cfg.Cache.FeedTTL <= 0 {
		cfg.Cache.FeedTTL = 60 * time.Second
	}
	if cfg.Upload.MaxBytes <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.Upload.MaxBytes)
	}
	return cfg, nil
}
