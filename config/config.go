package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config carries process-wide settings. Values come from an optional YAML
// file overlaid by environment variables; a .env file is honoured when
// present.
type Config struct {
	Addr          string        `yaml:"addr"`
	DatabaseURL   string        `yaml:"database_url"`
	JWTSecret     string        `yaml:"jwt_secret"`
	SweepSecret   string        `yaml:"sweep_secret"`
	SweepWorkers  int           `yaml:"sweep_workers"`
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the key-expiry counter store used for rate limiting.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Load reads configuration from the YAML file at path (optional) and the
// environment. Environment variables win over file values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:          ":8080",
		SweepWorkers:  8,
		NotifyTimeout: 5 * time.Second,
		Redis:         RedisConfig{Addr: "127.0.0.1:6379"},
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %s: %w", path, err)
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	cfg.Addr = getEnv("RENOFLOW_ADDR", cfg.Addr)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.JWTSecret = getEnv("RENOFLOW_JWT_SECRET", cfg.JWTSecret)
	cfg.SweepSecret = getEnv("RENOFLOW_SWEEP_SECRET", cfg.SweepSecret)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)

	if v := os.Getenv("RENOFLOW_SWEEP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: RENOFLOW_SWEEP_WORKERS must be an int: %w", err)
		}
		cfg.SweepWorkers = n
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: RENOFLOW_JWT_SECRET is required")
	}
	if cfg.SweepSecret == "" {
		return nil, fmt.Errorf("config: RENOFLOW_SWEEP_SECRET is required")
	}
	if cfg.SweepWorkers <= 0 {
		cfg.SweepWorkers = 8
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
