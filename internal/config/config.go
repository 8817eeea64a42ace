package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Lock struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"lock"`
	Log struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`
}

func Default() Config {
	var cfg Config
	cfg.Lock.TTL = 10 * time.Minute
	cfg.Log.Level = "info"
	cfg.Log.MaxSizeMB = 50
	cfg.Log.MaxBackups = 5
	cfg.Log.MaxAgeDays = 30
	cfg.Log.Compress = true
	return cfg
}

// Load reads an optional YAML file and applies CM_* environment overrides on
// top of it. A .env file in the working directory is honoured when present.
func Load(path string) (Config, error) {
	cfg := Default()
	_ = godotenv.Load()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, err
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	applyEnv(&cfg)

	if cfg.Database.DSN == "" {
		return cfg, errors.New("missing database.dsn (or CM_DB_DSN)")
	}
	if cfg.Lock.TTL <= 0 {
		return cfg, errors.New("lock.ttl must be positive")
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CM_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("CM_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("CM_LOCK_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lock.TTL = d
		}
	}
	if v := os.Getenv("CM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CM_LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
	if v := os.Getenv("CM_LOG_MAX_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Log.MaxSizeMB = n
		}
	}
	if v := os.Getenv("CM_LOG_MAX_BACKUPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Log.MaxBackups = n
		}
	}
	if v := os.Getenv("CM_LOG_MAX_AGE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Log.MaxAgeDays = n
		}
	}
	if v := os.Getenv("CM_LOG_COMPRESS"); v != "" {
		cfg.Log.Compress = parseBool(v, cfg.Log.Compress)
	}
}

func parseBool(input string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
