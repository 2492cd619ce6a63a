package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port string `yaml:"port"`
}

type GeminiConfig struct {
	APIKey             string `yaml:"api_key"`
	Model              string `yaml:"model"`
	CallTimeoutSeconds int    `yaml:"call_timeout_seconds"`
}

// UsageConfig configures the per-user daily LLM budget.
type UsageConfig struct {
	DailyLimit      int     `yaml:"daily_limit"`
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
	Backend         string  `yaml:"backend"`
	RedisAddr       string  `yaml:"redis_addr"`
	Timezone        string  `yaml:"timezone"`
}

type ChunkerConfig struct {
	MaxWords int `yaml:"max_words"`
}

// EmbedderConfig selects the embedding backend: "onnx" runs MiniLM locally, "ollama" calls an Ollama server.
type EmbedderConfig struct {
	Backend        string `yaml:"backend"`
	ModelPath      string `yaml:"model_path"`
	TokenizerPath  string `yaml:"tokenizer_path"`
	OnnxLibrary    string `yaml:"onnx_library"`
	MaxTokens      int    `yaml:"max_tokens"`
	Dimension      int    `yaml:"dimension"`
	OllamaURL      string `yaml:"ollama_url"`
	OllamaModel    string `yaml:"ollama_model"`
	BatchSize      int    `yaml:"batch_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type RetrieverConfig struct {
	TopK int `yaml:"top_k"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend"`
	ChromaURL  string `yaml:"chroma_url"`
	Collection string `yaml:"collection"`
}

type ExtractorConfig struct {
	UnidocLicenseKey string `yaml:"unidoc_license_key"`
	OCR              string `yaml:"ocr"`
}

type InboxConfig struct {
	Path    string `yaml:"path"`
	OwnerID string `yaml:"owner_id"`
	QuietMS int    `yaml:"quiet_ms"`
}

type RetentionConfig struct {
	Schedule    string `yaml:"schedule"`
	MaxAgeHours int    `yaml:"max_age_hours"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Usage     UsageConfig     `yaml:"usage"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Store     StoreConfig     `yaml:"store"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Inbox     InboxConfig     `yaml:"inbox"`
	Retention RetentionConfig `yaml:"retention"`
	Log       LogConfig       `yaml:"log"`
}

// Load starts from Default, then applies the YAML file at path (skipped when it does not exist),
// then .env and environment overrides. The usage limits keep an explicit zero.
func Load(path string) (*AppConfig, error) {
	// .env is optional; the process environment is authoritative either way.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file or environment is present.
func Default() *AppConfig {
	cfg := &AppConfig{Usage: UsageConfig{DailyLimit: 10, CooldownSeconds: 1.0}}
	applyDefaults(cfg)
	return cfg
}

func applyEnv(cfg *AppConfig) error {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&cfg.Gemini.Model, "GEMINI_MODEL")
	setString(&cfg.Usage.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Store.ChromaURL, "CHROMA_URL")
	setString(&cfg.Inbox.Path, "INDEX_PATH")
	setString(&cfg.Inbox.OwnerID, "INBOX_OWNER_ID")
	setString(&cfg.Extractor.UnidocLicenseKey, "UNIDOC_LICENSE_KEY")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("MAX_REQUESTS_PER_DAY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_REQUESTS_PER_DAY: %w", err)
		}
		cfg.Usage.DailyLimit = n
	}
	if v := os.Getenv("REQUEST_COOLDOWN"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("REQUEST_COOLDOWN: %w", err)
		}
		cfg.Usage.CooldownSeconds = f
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// applyDefaults fills fields whose zero value means "unset". The usage limits are not among
// them, since zero is a meaningful limit and cooldown.
func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.5-flash"
	}
	if cfg.Gemini.CallTimeoutSeconds == 0 {
		cfg.Gemini.CallTimeoutSeconds = 60
	}
	if cfg.Usage.Backend == "" {
		cfg.Usage.Backend = "memory"
	}
	if cfg.Chunker.MaxWords == 0 {
		cfg.Chunker.MaxWords = 500
	}
	if cfg.Embedder.Backend == "" {
		cfg.Embedder.Backend = "onnx"
	}
	if cfg.Embedder.ModelPath == "" {
		cfg.Embedder.ModelPath = "models/all-MiniLM-L6-v2/model.onnx"
	}
	if cfg.Embedder.TokenizerPath == "" {
		cfg.Embedder.TokenizerPath = "models/all-MiniLM-L6-v2/tokenizer.json"
	}
	if cfg.Embedder.MaxTokens == 0 {
		cfg.Embedder.MaxTokens = 512
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 384
	}
	if cfg.Embedder.OllamaURL == "" {
		cfg.Embedder.OllamaURL = "http://localhost:11434"
	}
	if cfg.Embedder.OllamaModel == "" {
		cfg.Embedder.OllamaModel = "nomic-embed-text:v1.5"
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 32
	}
	if cfg.Embedder.TimeoutSeconds == 0 {
		cfg.Embedder.TimeoutSeconds = 30
	}
	if cfg.Retriever.TopK == 0 {
		cfg.Retriever.TopK = 5
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = "legal-documents"
	}
	if cfg.Extractor.OCR == "" {
		cfg.Extractor.OCR = "gemini"
	}
	if cfg.Inbox.QuietMS == 0 {
		cfg.Inbox.QuietMS = 500
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "@daily"
	}
	if cfg.Retention.MaxAgeHours == 0 {
		cfg.Retention.MaxAgeHours = 30 * 24
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	if c.Usage.DailyLimit < 0 {
		return fmt.Errorf("usage.daily_limit must not be negative, got %d", c.Usage.DailyLimit)
	}
	if c.Usage.CooldownSeconds < 0 {
		return fmt.Errorf("usage.cooldown_seconds must not be negative, got %v", c.Usage.CooldownSeconds)
	}
	if c.Chunker.MaxWords <= 0 {
		return fmt.Errorf("chunker.max_words must be positive, got %d", c.Chunker.MaxWords)
	}
	switch c.Usage.Backend {
	case "memory":
	case "redis":
		if c.Usage.RedisAddr == "" {
			return errors.New("usage.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown usage backend %q", c.Usage.Backend)
	}
	switch c.Embedder.Backend {
	case "onnx":
		if c.Embedder.ModelPath == "" || c.Embedder.TokenizerPath == "" {
			return errors.New("embedder.model_path and embedder.tokenizer_path are required for the onnx backend")
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown embedder backend %q", c.Embedder.Backend)
	}
	switch c.Store.Backend {
	case "memory", "chroma":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Extractor.OCR {
	case "gemini", "none":
	default:
		return fmt.Errorf("unknown ocr engine %q", c.Extractor.OCR)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Cooldown returns the per-request cooldown as a duration.
func (c *AppConfig) Cooldown() time.Duration {
	return time.Duration(c.Usage.CooldownSeconds * float64(time.Second))
}

// CallTimeout bounds every LLM provider call.
func (c *AppConfig) CallTimeout() time.Duration {
	return time.Duration(c.Gemini.CallTimeoutSeconds) * time.Second
}

// InboxQuietPeriod is how long a watched file must stay unchanged before it is ingested.
func (c *AppConfig) InboxQuietPeriod() time.Duration {
	return time.Duration(c.Inbox.QuietMS) * time.Millisecond
}

func (c *AppConfig) RetentionMaxAge() time.Duration {
	return time.Duration(c.Retention.MaxAgeHours) * time.Hour
}

// Location is the time zone that defines a usage "day". Empty means the process local zone.
func (c *AppConfig) Location() (*time.Location, error) {
	if c.Usage.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Usage.Timezone)
	if err != nil {
		return nil, fmt.Errorf("usage.timezone: %w", err)
	}
	return loc, nil
}
