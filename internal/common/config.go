package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	LLM         LLMConfig       `toml:"llm"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Claude      ClaudeConfig    `toml:"claude"`
	Chunker     ChunkerConfig   `toml:"chunker"`
	Retrieval   RetrievalConfig `toml:"retrieval"`
	Verdict     VerdictConfig   `toml:"verdict"`
	Ingest      IngestConfig    `toml:"ingest"`
	Expiry      ExpiryConfig    `toml:"expiry"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=0,max=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration.
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default "15:04:05.000"
}

// LLMConfig selects the default provider and embedding model.
type LLMConfig struct {
	DefaultProvider string `toml:"default_provider" validate:"oneof=gemini claude offline"`
	EmbedModel      string `toml:"embed_model"`
	EmbedDimension  int    `toml:"embed_dimension" validate:"min=1"`
	// EmbedRateLimit caps embedding calls per second to the provider.
	EmbedRateLimit float64 `toml:"embed_rate_limit"`
}

type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
	MaxTokens   int     `toml:"max_tokens"`
}

type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Temperature float32 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
	MaxTokens   int     `toml:"max_tokens"`
}

// ChunkerConfig holds the token band and overlap for semantic chunking.
type ChunkerConfig struct {
	MinTokens     int `toml:"min_tokens" validate:"min=1"`
	MaxTokens     int `toml:"max_tokens" validate:"min=1"`
	OverlapTokens int `toml:"overlap_tokens" validate:"min=0"`
}

// RetrievalConfig holds the hybrid retrieval and fusion tunables. RRF k and
// the official boost are corpus-dependent, so both stay configurable.
type RetrievalConfig struct {
	RRFK          float64 `toml:"rrf_k"`
	OfficialBoost float64 `toml:"official_boost"`
	CandidateSize int     `toml:"candidate_size"` // fused candidates kept for rerank
	ChannelTopK   int     `toml:"channel_top_k"`  // per-channel depth before fusion
	RerankTopK    int     `toml:"rerank_top_k"`   // survivors after rerank
	MultiHop      bool    `toml:"multi_hop"`
}

// VerdictConfig bounds synthesis context and duplicate resolution.
type VerdictConfig struct {
	ContextMin       int     `toml:"context_min"` // minimum chunks passed to synthesis
	ContextMax       int     `toml:"context_max"` // maximum chunks passed to synthesis
	JaccardThreshold float64 `toml:"jaccard_threshold"`
}

// IngestConfig bounds retries around the external suspension points.
type IngestConfig struct {
	MaxAttempts    int    `toml:"max_attempts" validate:"min=1"`
	InitialBackoff string `toml:"initial_backoff"`
	ClassifyChars  int    `toml:"classify_chars"` // leading text budget for the classifier
}

// ExpiryConfig drives the scheduled TTL sweep over expired sources.
type ExpiryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // cron format
}

// NewDefaultConfig returns the configuration defaults, overridden by files
// and environment.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/regula",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		LLM: LLMConfig{
			DefaultProvider: "gemini",
			EmbedModel:      "gemini-embedding-001",
			EmbedDimension:  768,
			EmbedRateLimit:  10,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.0-flash",
			Temperature: 0.2,
			Timeout:     "60s",
			MaxTokens:   8192,
		},
		Claude: ClaudeConfig{
			Model:       "claude-sonnet-4-20250514",
			Temperature: 0.2,
			Timeout:     "60s",
			MaxTokens:   8192,
		},
		Chunker: ChunkerConfig{
			MinTokens:     300,
			MaxTokens:     500,
			OverlapTokens: 50,
		},
		Retrieval: RetrievalConfig{
			RRFK:          60,
			OfficialBoost: 1.05,
			CandidateSize: 50,
			ChannelTopK:   50,
			RerankTopK:    10,
			MultiHop:      true,
		},
		Verdict: VerdictConfig{
			ContextMin:       5,
			ContextMax:       8,
			JaccardThreshold: 0.8,
		},
		Ingest: IngestConfig{
			MaxAttempts:    3,
			InitialBackoff: "500ms",
			ClassifyChars:  6000,
		},
		Expiry: ExpiryConfig{
			Enabled:  true,
			Schedule: "*/10 * * * *",
		},
	}
}

// LoadFromFiles loads configuration with layered precedence:
// defaults -> file1 -> file2 -> ... -> environment variables.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies REGULA_* environment variables on top of the
// file configuration.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("REGULA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("REGULA_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("REGULA_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("REGULA_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("REGULA_LLM_PROVIDER"); v != "" {
		config.LLM.DefaultProvider = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		config.Gemini.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		config.Claude.APIKey = v
	}
}

// ApplyFlagOverrides applies command-line flag values. Flags have the
// highest precedence.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks structural constraints plus the cross-field rules the
// validator tags cannot express.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Chunker.MinTokens >= c.Chunker.MaxTokens {
		return fmt.Errorf("chunker min_tokens (%d) must be below max_tokens (%d)", c.Chunker.MinTokens, c.Chunker.MaxTokens)
	}
	if c.Verdict.ContextMin > c.Verdict.ContextMax {
		return fmt.Errorf("verdict context_min (%d) must not exceed context_max (%d)", c.Verdict.ContextMin, c.Verdict.ContextMax)
	}
	if c.Ingest.InitialBackoff != "" {
		if _, err := time.ParseDuration(c.Ingest.InitialBackoff); err != nil {
			return fmt.Errorf("invalid ingest initial_backoff: %w", err)
		}
	}
	return nil
}

// IsProduction returns true when running with production settings.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
