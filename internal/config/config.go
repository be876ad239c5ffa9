package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	AI      AIConfig
	Worker  WorkerConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type AIConfig struct {
	BaseURL        string
	Model          string
	APIKey         string
	RequestTimeout time.Duration
}

type WorkerConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
}

type LogConfig struct {
	Level string
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "lifeledger-data"
		}
	}
	return filepath.Join(dir, "lifeledger")
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		AI: AIConfig{
			BaseURL:        "https://openrouter.ai/api/v1",
			Model:          "mistralai/mistral-7b-instruct:free",
			RequestTimeout: 90 * time.Second,
		},
		Worker: WorkerConfig{
			PollInterval: 500 * time.Millisecond,
			MaxAttempts:  3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a .env file (if present in the working
// directory) and environment variables. Env vars always win over .env.
//
// A missing OpenRouter API key is not fatal at startup: the daemon still
// serves entries, and enrichment tasks finalize with fallback values.
func Load() (Config, error) {
	// Ignore a missing .env; any other read error is surfaced.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	cfg := defaults()
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "LIFELEDGER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "LIFELEDGER_API_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
	},
	{
		env: "LIFELEDGER_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "LIFELEDGER_AI_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.AI.BaseURL = v.(string) },
	},
	{
		env: "LIFELEDGER_AI_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.AI.Model = v.(string) },
	},
	{
		env: "OPENROUTER_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.AI.APIKey = v.(string) },
	},
	{
		env: "LIFELEDGER_AI_TIMEOUT", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.AI.RequestTimeout = v.(time.Duration) },
	},
	{
		env: "LIFELEDGER_WORKER_POLL_INTERVAL", typ: kDuration,
		apply: func(cfg *Config, v any) { cfg.Worker.PollInterval = v.(time.Duration) },
	},
	{
		env: "LIFELEDGER_WORKER_MAX_ATTEMPTS", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Worker.MaxAttempts = v.(int) },
	},
	{
		env: "LIFELEDGER_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) error {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			i, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("invalid integer in env var %s=%q: %w", s.env, raw, err)
			}
			s.apply(cfg, i)
		case kDuration:
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("invalid duration in env var %s=%q: %w", s.env, raw, err)
			}
			s.apply(cfg, d)
		}
	}
	return nil
}
