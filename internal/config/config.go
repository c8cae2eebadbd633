package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all linkboard configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	LLM      LLMConfig      `yaml:"llm"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Persist  PersistConfig  `yaml:"persist"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type StorageConfig struct {
	// DataDir holds linkboard.db and the blobs/ directory. Empty resolves to
	// ~/.linkboard at runtime.
	DataDir string `yaml:"data_dir"`
	// MetadataQuota caps the metadata database in bytes. Zero is unbounded.
	MetadataQuota int64 `yaml:"metadata_quota"`
}

type LLMConfig struct {
	Provider     string `yaml:"provider"` // "claude-cli", "anthropic", "openai", "ollama"
	Model        string `yaml:"model"`
	OllamaURL    string `yaml:"ollama_url"`
	OllamaModel  string `yaml:"ollama_model"`
	AnthropicKey string `yaml:"anthropic_key"`
	OpenAIKey    string `yaml:"openai_key"`
	OpenAIURL    string `yaml:"openai_url"` // any OpenAI-compatible endpoint
}

type AnalysisConfig struct {
	// ErrorDisplay is how long a failed layer shows its error before idling.
	ErrorDisplay time.Duration `yaml:"error_display"`
	// Timeout bounds a single collaborator call.
	Timeout      time.Duration `yaml:"timeout"`
	Placeholders []string      `yaml:"placeholders"`
}

type PersistConfig struct {
	Debounce      time.Duration `yaml:"debounce"`
	BinaryWorkers int           `yaml:"binary_workers"`
}

type LogConfig struct {
	Env   string `yaml:"env"`   // "development" or "production"
	Level string `yaml:"level"` // overrides the env default when set
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Storage: StorageConfig{
			MetadataQuota: 5 << 20,
		},
		LLM: LLMConfig{
			Provider: "claude-cli",
			Model:    "haiku",
		},
		Analysis: AnalysisConfig{
			ErrorDisplay: 4 * time.Second,
			Timeout:      2 * time.Minute,
			Placeholders: []string{"New note", "Double-click to edit"},
		},
		Persist: PersistConfig{
			Debounce:      750 * time.Millisecond,
			BinaryWorkers: 4,
		},
		Log: LogConfig{
			Env: "development",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (a
// missing file is fine), then environment overrides. A .env file in the
// working directory is loaded into the environment first if present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// DefaultPath returns ~/.linkboard/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".linkboard", "config.yaml")
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Bind, "LINKBOARD_BIND")
	setString(&c.Storage.DataDir, "LINKBOARD_DATA_DIR")
	setString(&c.LLM.Provider, "LINKBOARD_LLM_PROVIDER")
	setString(&c.LLM.Model, "LINKBOARD_LLM_MODEL")
	setString(&c.LLM.OllamaURL, "LINKBOARD_OLLAMA_URL")
	setString(&c.LLM.OpenAIURL, "LINKBOARD_OPENAI_URL")
	setString(&c.LLM.AnthropicKey, "ANTHROPIC_API_KEY")
	setString(&c.LLM.OpenAIKey, "OPENAI_API_KEY")
	setString(&c.Log.Env, "LINKBOARD_ENV")
	setString(&c.Log.Level, "LINKBOARD_LOG_LEVEL")

	if v := os.Getenv("LINKBOARD_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LINKBOARD_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("LINKBOARD_METADATA_QUOTA"); v != "" {
		q, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("LINKBOARD_METADATA_QUOTA: %w", err)
		}
		c.Storage.MetadataQuota = q
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks ranges the rest of the program relies on.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Storage.MetadataQuota < 0 {
		return fmt.Errorf("storage.metadata_quota must not be negative")
	}
	if c.Persist.BinaryWorkers < 1 {
		return fmt.Errorf("persist.binary_workers must be at least 1")
	}
	if c.Persist.Debounce <= 0 {
		return fmt.Errorf("persist.debounce must be positive")
	}
	if c.Analysis.ErrorDisplay <= 0 {
		return fmt.Errorf("analysis.error_display must be positive")
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// BaseURL is the address CLI commands use to reach a running server.
func (c *Config) BaseURL() string {
	return "http://" + c.ListenAddr()
}
