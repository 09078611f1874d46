// Package config loads the service configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the configuration of the action service
type Config struct {
	Browser   BrowserConfig   `yaml:"browser" json:"browser"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Executor  ExecutorConfig  `yaml:"executor" json:"executor"`
	Scripts   ScriptsConfig   `yaml:"scripts" json:"scripts"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Server    ServerConfig    `yaml:"server" json:"server"`

	// ConfigFilePath is the file the configuration was read from, if any
	ConfigFilePath string `yaml:"-" json:"-"`
}

// BrowserConfig defines the browser engine and session limits
type BrowserConfig struct {
	Headless bool `yaml:"headless" json:"headless"`
	Install  bool `yaml:"install" json:"install"` // Download the driver and Chromium on first start

	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	ActionTimeout  time.Duration `yaml:"action_timeout" json:"action_timeout"` // Default timeout of one page operation

	MaxSessions     int           `yaml:"max_sessions" json:"max_sessions"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	JanitorInterval time.Duration `yaml:"janitor_interval" json:"janitor_interval"`
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider       string `yaml:"provider" json:"provider"` // hashing or openai
	Model          string `yaml:"model" json:"model"`
	APIKey         string `yaml:"api_key" json:"-"`
	BaseURL        string `yaml:"base_url" json:"base_url"`
	Dimensions     int    `yaml:"dimensions" json:"dimensions"`
	MaxInputTokens int    `yaml:"max_input_tokens" json:"max_input_tokens"`
	BatchSize      int    `yaml:"batch_size" json:"batch_size"`
	Workers        int    `yaml:"workers" json:"workers"`

	// Eager initialises the model at startup instead of on the first query
	Eager bool `yaml:"eager" json:"eager"`
}

// RetrievalConfig holds the defaults of semantic queries
type RetrievalConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	MaxResults          int     `yaml:"max_results" json:"max_results"`
	MaxChunkChars       int     `yaml:"max_chunk_chars" json:"max_chunk_chars"`
	ChunkingStrategy    string  `yaml:"chunking_strategy" json:"chunking_strategy"`
	RoleHints           bool    `yaml:"role_hints" json:"role_hints"`
}

// ExecutorConfig defines batch execution limits
type ExecutorConfig struct {
	BatchTimeout  time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	HTMLMaxLength int           `yaml:"html_max_length" json:"html_max_length"`
	ScreenshotDir string        `yaml:"screenshot_dir" json:"screenshot_dir"` // Empty keeps screenshots in memory
}

// ScriptsConfig defines the evaluate_js policy
type ScriptsConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	AllowedHosts  []string `yaml:"allowed_hosts" json:"allowed_hosts"`
	DeniedHosts   []string `yaml:"denied_hosts" json:"denied_hosts"`
	RatePerSecond float64  `yaml:"rate_per_second" json:"rate_per_second"`
	Burst         int      `yaml:"burst" json:"burst"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level     string `yaml:"level" json:"level"`
	Directory string `yaml:"directory" json:"directory"`
}

// ServerConfig defines the HTTP transport
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Browser.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be positive")
	}
	if c.Browser.IdleTimeout <= 0 {
		return fmt.Errorf("browser.idle_timeout must be positive")
	}
	if c.Browser.ActionTimeout < 0 || c.Browser.JanitorInterval < 0 {
		return fmt.Errorf("browser timeouts cannot be negative")
	}
	if c.Browser.ViewportWidth < 0 || c.Browser.ViewportHeight < 0 {
		return fmt.Errorf("browser viewport cannot be negative")
	}

	switch c.Embedding.Provider {
	case "hashing":
	case "openai":
		if c.Embedding.Model == "" {
			return fmt.Errorf("embedding.model is required for the openai provider")
		}
	default:
		return fmt.Errorf("invalid embedding provider: %s (must be 'hashing' or 'openai')", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions < 0 || c.Embedding.BatchSize < 0 || c.Embedding.Workers < 0 {
		return fmt.Errorf("embedding sizes cannot be negative")
	}

	if t := c.Retrieval.SimilarityThreshold; t < -1 || t > 1 {
		return fmt.Errorf("retrieval.similarity_threshold must be between -1 and 1")
	}
	if c.Retrieval.MaxChunkChars < 0 {
		return fmt.Errorf("retrieval.max_chunk_chars cannot be negative")
	}
	switch c.Retrieval.ChunkingStrategy {
	case "", "subtrees", "individual_nodes":
	default:
		return fmt.Errorf("invalid chunking strategy: %s (must be 'subtrees' or 'individual_nodes')", c.Retrieval.ChunkingStrategy)
	}

	if c.Executor.BatchTimeout <= 0 {
		return fmt.Errorf("executor.batch_timeout must be positive")
	}
	if c.Executor.HTMLMaxLength < 0 {
		return fmt.Errorf("executor.html_max_length cannot be negative")
	}

	if c.Scripts.RatePerSecond < 0 || c.Scripts.Burst < 0 {
		return fmt.Errorf("scripts rate limit cannot be negative")
	}

	// Set default level if not specified
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}

// DefaultConfig returns a default configuration suitable for most use cases
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:        true,
			ViewportWidth:   1024,
			ViewportHeight:  720,
			ActionTimeout:   30 * time.Second,
			MaxSessions:     5,
			IdleTimeout:     5 * time.Minute,
			JanitorInterval: 30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:       "hashing",
			Dimensions:     384,
			MaxInputTokens: 8191,
			BatchSize:      96,
			Workers:        2,
		},
		Retrieval: RetrievalConfig{
			SimilarityThreshold: 0.3,
			MaxResults:          20,
			MaxChunkChars:       2000,
			ChunkingStrategy:    "subtrees",
			RoleHints:           true,
		},
		Executor: ExecutorConfig{
			BatchTimeout:  2 * time.Minute,
			HTMLMaxLength: 20000,
		},
		Scripts: ScriptsConfig{
			Enabled:       true,
			RatePerSecond: 5,
			Burst:         10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
	}
}

// Load reads a YAML file over the defaults and applies environment overrides.
// An empty path returns the defaults with overrides applied.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		config.ConfigFilePath = path
	}

	if err := config.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// ApplyEnv overrides settings from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if key := firstNonEmpty(getenv("AXCORE_OPENAI_API_KEY"), getenv("OPENAI_API_KEY")); key != "" {
		c.Embedding.APIKey = key
	}
	if url := firstNonEmpty(getenv("AXCORE_OPENAI_BASE_URL"), getenv("OPENAI_BASE_URL")); url != "" {
		c.Embedding.BaseURL = url
	}
	if v := getenv("AXCORE_HEADLESS"); v != "" {
		headless, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid AXCORE_HEADLESS %q: %w", v, err)
		}
		c.Browser.Headless = headless
	}
	if v := getenv("AXCORE_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := getenv("AXCORE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
