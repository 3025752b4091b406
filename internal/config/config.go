// Package config loads service configuration from defaults and POPOUTS_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	LLM     LLMConfig
	Dedup   DedupConfig
	Admin   AdminConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LLMConfig struct {
	Provider      string // "openai" or "toqan"
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	ToqanAPIKey   string
	ToqanBaseURL  string
	Timeout       time.Duration
}

type DedupConfig struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
}

type AdminConfig struct {
	Token string
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
			return "popouts-data"
		}
	}
	return filepath.Join(dir, "popouts")
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			Provider: "toqan",
			Timeout:  120 * time.Second,
		},
		Dedup: DedupConfig{
			PollInterval: 2 * time.Second,
			PollTimeout:  120 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults and POPOUTS_* environment
// overrides, then validates that the selected LLM provider has an API key
// and that the admin token is set.
func Load() (Config, error) {
	cfg := defaults()
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("missing required config: set POPOUTS_OPENAI_API_KEY for the openai provider")
		}
	case "toqan":
		if cfg.LLM.ToqanAPIKey == "" {
			return Config{}, fmt.Errorf("missing required config: set POPOUTS_TOQAN_API_KEY for the toqan provider")
		}
	default:
		return Config{}, fmt.Errorf("unknown LLM provider %q: must be openai or toqan", cfg.LLM.Provider)
	}

	if cfg.Admin.Token == "" {
		return Config{}, fmt.Errorf("missing required config: set POPOUTS_ADMIN_TOKEN for the admin endpoints")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	setString := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setInt := func(env string, dst *int) error {
		v := os.Getenv(env)
		if v == "" {
			return nil
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %w", env, err)
		}
		*dst = i
		return nil
	}
	setDuration := func(env string, dst *time.Duration) error {
		v := os.Getenv(env)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", env, err)
		}
		*dst = d
		return nil
	}

	setString("POPOUTS_SERVER_HOST", &cfg.Server.Host)
	if err := setInt("POPOUTS_SERVER_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	setString("POPOUTS_STORAGE_DATA_DIR", &cfg.Storage.DataDir)
	setString("POPOUTS_LLM_PROVIDER", &cfg.LLM.Provider)
	setString("POPOUTS_OPENAI_API_KEY", &cfg.LLM.OpenAIAPIKey)
	setString("POPOUTS_OPENAI_MODEL", &cfg.LLM.OpenAIModel)
	setString("POPOUTS_OPENAI_BASE_URL", &cfg.LLM.OpenAIBaseURL)
	setString("POPOUTS_TOQAN_API_KEY", &cfg.LLM.ToqanAPIKey)
	setString("POPOUTS_TOQAN_BASE_URL", &cfg.LLM.ToqanBaseURL)
	if err := setDuration("POPOUTS_LLM_TIMEOUT", &cfg.LLM.Timeout); err != nil {
		return err
	}
	if err := setDuration("POPOUTS_DEDUP_POLL_INTERVAL", &cfg.Dedup.PollInterval); err != nil {
		return err
	}
	if err := setDuration("POPOUTS_DEDUP_POLL_TIMEOUT", &cfg.Dedup.PollTimeout); err != nil {
		return err
	}
	setString("POPOUTS_ADMIN_TOKEN", &cfg.Admin.Token)
	setString("POPOUTS_LOG_LEVEL", &cfg.Log.Level)

	return nil
}
