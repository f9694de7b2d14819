package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Backend selects the inference engine: "ollama" or "llama".
	Backend      string `json:"backend" yaml:"backend" toml:"backend"`
	OllamaURL    string `json:"ollama_url" yaml:"ollama_url" toml:"ollama_url"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	LlamaCtx     int    `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads int    `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`

	HistoryDir    string `json:"history_dir" yaml:"history_dir" toml:"history_dir"`
	VectorDir     string `json:"vector_dir" yaml:"vector_dir" toml:"vector_dir"`
	EmbedProvider string `json:"embed_provider" yaml:"embed_provider" toml:"embed_provider"`
	EmbedModel    string `json:"embed_model" yaml:"embed_model" toml:"embed_model"`

	PreloadModels      []string `json:"preload_models" yaml:"preload_models" toml:"preload_models"`
	DefaultTemperature *float64 `json:"default_temperature" yaml:"default_temperature" toml:"default_temperature"`
	WindowK            int      `json:"window_k" yaml:"window_k" toml:"window_k"`
	RetrievalK         int      `json:"retrieval_k" yaml:"retrieval_k" toml:"retrieval_k"`

	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	LogLevel    string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat   string   `json:"log_format" yaml:"log_format" toml:"log_format"`

	MaxBodyBytes          int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	RequestTimeoutSeconds int   `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	SerializePerModel     bool  `json:"serialize_per_model" yaml:"serialize_per_model" toml:"serialize_per_model"`
	MaxQueueDepth         int   `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitSeconds        int   `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`
	StreamBuffer          int   `json:"stream_buffer" yaml:"stream_buffer" toml:"stream_buffer"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unspecified field.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.Backend == "" {
		c.Backend = "ollama"
	}
	if c.OllamaURL == "" {
		c.OllamaURL = "http://127.0.0.1:11434"
	}
	if c.ModelsDir == "" {
		c.ModelsDir = "~/models/llm"
	}
	if c.LlamaCtx <= 0 {
		c.LlamaCtx = 4096
	}
	if c.LlamaThreads <= 0 {
		c.LlamaThreads = 4
	}
	if c.HistoryDir == "" {
		c.HistoryDir = "."
	}
	if c.VectorDir == "" {
		c.VectorDir = "."
	}
	if c.EmbedProvider == "" {
		c.EmbedProvider = "ollama"
	}
	if c.EmbedModel == "" {
		c.EmbedModel = "all-minilm"
	}
	if c.PreloadModels == nil {
		c.PreloadModels = []string{"mistral", "tinyllama"}
	}
	if c.DefaultTemperature == nil {
		t := 0.3
		c.DefaultTemperature = &t
	}
	if c.WindowK <= 0 {
		c.WindowK = 3
	}
	if c.RetrievalK <= 0 {
		c.RetrievalK = 3
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"http://localhost:3000"}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.RequestTimeoutSeconds < 0 {
		c.RequestTimeoutSeconds = 0
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = 8
	}
	if c.MaxWaitSeconds <= 0 {
		c.MaxWaitSeconds = 30
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = 64
	}
}

// ApplyEnv overrides fields from CHATD_ADDR and OLLAMA_HOST when set.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("CHATD_ADDR")); v != "" {
		c.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("OLLAMA_HOST")); v != "" {
		if !strings.Contains(v, "://") {
			v = "http://" + v
		}
		c.OllamaURL = v
	}
}

// Validate rejects values ApplyDefaults cannot repair.
func (c Config) Validate() error {
	switch c.Backend {
	case "ollama", "llama":
	default:
		return fmt.Errorf("unsupported backend %q (want ollama or llama)", c.Backend)
	}
	if t := c.DefaultTemperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("default_temperature %v out of range [0, 2]", *t)
	}
	return nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}
