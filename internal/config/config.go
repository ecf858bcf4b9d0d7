// Package config loads clip-memory settings from defaults, an optional YAML
// file, a .env file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	RateLimit RateLimitConfig `yaml:"rate-limit"`
	Media     MediaConfig     `yaml:"media"`
	Output    OutputConfig    `yaml:"output"`
	Memory    MemoryConfig    `yaml:"memory"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	STT       STTConfig       `yaml:"stt"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`

	// WorkDir holds per-run scratch directories.
	WorkDir string `yaml:"workdir"`
}

type RateLimitConfig struct {
	PerMinute int `yaml:"per-minute"`
	PerHour   int `yaml:"per-hour"`
}

type MediaConfig struct {
	MaxFileSizeMB      int    `yaml:"max-file-size-mb"`
	MaxDurationMinutes int    `yaml:"max-duration-minutes"`
	YtDlpPath          string `yaml:"ytdlp-path"`
}

type OutputConfig struct {
	MaxMessageLength int `yaml:"max-message-length"`
}

type MemoryConfig struct {
	MaxEntries          int     `yaml:"max-entries"`
	TopK                int     `yaml:"top-k"`
	SimilarityThreshold float64 `yaml:"similarity-threshold"`
}

type EmbeddingConfig struct {
	// Provider is "openai", "ollama", "hash" (offline) or "" to disable embeddings.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base-url"`
}

type LLMConfig struct {
	// Provider is "openai" or "anthropic".
	Provider         string `yaml:"provider"`
	Model            string `yaml:"model"`
	MaxOutputTokens  int    `yaml:"max-output-tokens"`
	AnalysisLanguage string `yaml:"analysis-language"`
}

type STTConfig struct {
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

type OpenAIConfig struct {
	APIKey            string  `yaml:"api-key"`
	BaseURL           string  `yaml:"base-url"`
	RequestsPerSecond float64 `yaml:"requests-per-second"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"api-key"`
}

type StorageConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend     string `yaml:"backend"`
	SQLitePath  string `yaml:"sqlite-path"`
	PostgresDSN string `yaml:"postgres-dsn"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RateLimit: RateLimitConfig{PerMinute: 5, PerHour: 20},
		Media:     MediaConfig{MaxFileSizeMB: 50, MaxDurationMinutes: 10, YtDlpPath: "yt-dlp"},
		Output:    OutputConfig{MaxMessageLength: 4000},
		Memory:    MemoryConfig{MaxEntries: 100, TopK: 3, SimilarityThreshold: 0.5},
		Embedding: EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small"},
		LLM:       LLMConfig{Provider: "openai", MaxOutputTokens: 4000, AnalysisLanguage: "English"},
		STT:       STTConfig{Model: "whisper-1", Language: "auto"},
		OpenAI:    OpenAIConfig{BaseURL: "https://api.openai.com/v1", RequestsPerSecond: 5},
		Storage:   StorageConfig{Backend: "sqlite"},
		Log:       LogConfig{Level: "info", Format: "text"},
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8000},
		WorkDir:   "./data",
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	intVar := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	floatVar := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	strVar := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	intVar("MAX_REQUESTS_PER_MINUTE", &c.RateLimit.PerMinute)
	intVar("MAX_REQUESTS_PER_HOUR", &c.RateLimit.PerHour)
	intVar("MAX_FILE_SIZE_MB", &c.Media.MaxFileSizeMB)
	intVar("MAX_AUDIO_DURATION_MINUTES", &c.Media.MaxDurationMinutes)
	strVar("YTDLP_PATH", &c.Media.YtDlpPath)
	intVar("MAX_MESSAGE_LENGTH", &c.Output.MaxMessageLength)
	intVar("MEMORY_MAX_ENTRIES", &c.Memory.MaxEntries)
	intVar("MEMORY_TOP_K", &c.Memory.TopK)
	floatVar("MEMORY_SIMILARITY_THRESHOLD", &c.Memory.SimilarityThreshold)
	strVar("EMBEDDING_PROVIDER", &c.Embedding.Provider)
	strVar("EMBEDDING_MODEL", &c.Embedding.Model)
	strVar("EMBEDDING_BASE_URL", &c.Embedding.BaseURL)
	strVar("LLM_PROVIDER", &c.LLM.Provider)
	intVar("MAX_OUTPUT_TOKENS", &c.LLM.MaxOutputTokens)
	strVar("ANALYSIS_LANGUAGE", &c.LLM.AnalysisLanguage)
	strVar("STT_MODEL", &c.STT.Model)
	strVar("STT_LANGUAGE", &c.STT.Language)
	strVar("OPENAI_API_KEY", &c.OpenAI.APIKey)
	strVar("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	floatVar("OPENAI_RPS", &c.OpenAI.RequestsPerSecond)
	strVar("ANTHROPIC_API_KEY", &c.Anthropic.APIKey)
	strVar("STORAGE_BACKEND", &c.Storage.Backend)
	strVar("CLIP_MEMORY_DB", &c.Storage.SQLitePath)
	strVar("DATABASE_URL", &c.Storage.PostgresDSN)
	strVar("WORKDIR", &c.WorkDir)
	strVar("LOG_LEVEL", &c.Log.Level)
	strVar("LOG_FILE", &c.Log.File)
	strVar("LOG_FORMAT", &c.Log.Format)
	strVar("WEBHOOK_HOST", &c.Server.Host)
	intVar("WEBHOOK_PORT", &c.Server.Port)

	// The model variable depends on which provider is selected.
	switch c.LLM.Provider {
	case "anthropic":
		strVar("ANTHROPIC_MODEL", &c.LLM.Model)
	default:
		strVar("OPENAI_MODEL", &c.LLM.Model)
	}

	return errors.Join(errs...)
}

func (c *Config) fillDerived() {
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case "anthropic":
			c.LLM.Model = "claude-sonnet-4-5"
		default:
			c.LLM.Model = "gpt-5"
		}
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.WorkDir, "memory.db")
	}
}

// Validate checks that limits are usable and selectors are known.
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]int{
		"rate-limit.per-minute":      c.RateLimit.PerMinute,
		"rate-limit.per-hour":        c.RateLimit.PerHour,
		"media.max-file-size-mb":     c.Media.MaxFileSizeMB,
		"media.max-duration-minutes": c.Media.MaxDurationMinutes,
		"output.max-message-length":  c.Output.MaxMessageLength,
		"memory.max-entries":         c.Memory.MaxEntries,
		"memory.top-k":               c.Memory.TopK,
		"llm.max-output-tokens":      c.LLM.MaxOutputTokens,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.Memory.SimilarityThreshold < 0 || c.Memory.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("memory.similarity-threshold must be within [0,1], got %v", c.Memory.SimilarityThreshold))
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}
	switch c.Embedding.Provider {
	case "openai", "ollama", "hash", "":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider %q", c.Embedding.Provider))
	}
	switch c.Storage.Backend {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres-dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	return errors.Join(errs...)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
