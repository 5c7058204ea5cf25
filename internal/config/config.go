// Package config loads the runtime configuration file. Values are YAML with
// environment-variable expansion; absent options fall back to the documented
// defaults. Options that make an explicit zero meaningful (max_attempts,
// max_history_messages, enable_caching) are pointers so a missing key and a
// zero value stay distinguishable.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meridian-ai/meridian/internal/mcp"
	"github.com/meridian-ai/meridian/pkg/models"
)

// Config is the root configuration.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Reasoning     ReasoningConfig     `yaml:"reasoning"`
	Connection    ConnectionConfig    `yaml:"connection"`
	Conversation  ConversationConfig  `yaml:"conversation"`
	Summarization SummarizationConfig `yaml:"summarization"`
	State         StateConfig         `yaml:"state"`
	MCP           MCPConfig           `yaml:"mcp"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type LLMConfig struct {
	// APIKey may reference the environment, e.g. ${ANTHROPIC_API_KEY}.
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type ReasoningConfig struct {
	MaxIterations    int     `yaml:"max_iterations"`
	MinQualityDirect float64 `yaml:"min_quality_direct"`
	MinQualityLight  float64 `yaml:"min_quality_light"`
	MinQualityDeep   float64 `yaml:"min_quality_deep"`
	MinConfidence    float64 `yaml:"min_confidence"`
	ForceStrategy    string  `yaml:"force_strategy"`

	// Model overrides the completion model for the scheduler's own calls.
	Model string `yaml:"model"`
}

type ConnectionConfig struct {
	CheckInterval  time.Duration `yaml:"check_interval"`
	HealthTimeout  time.Duration `yaml:"health_timeout"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
	CeilingBackoff time.Duration `yaml:"ceiling_backoff"`
	JitterLow      float64       `yaml:"jitter_low"`
	JitterHigh     float64       `yaml:"jitter_high"`
	MaxAttempts    *int          `yaml:"max_attempts"`
}

type ConversationConfig struct {
	EnableCaching      *bool `yaml:"enable_caching"`
	MaxHistoryMessages *int  `yaml:"max_history_messages"`
}

type SummarizationConfig struct {
	Model              string  `yaml:"model"`
	MinMessages        int     `yaml:"min_messages_for_summary"`
	ReconcatGuardRatio float64 `yaml:"reconcat_guard_ratio"`
}

type StateConfig struct {
	// Backend selects the provider: file, memory, or sqlite.
	Backend   string          `yaml:"backend"`
	BaseDir   string          `yaml:"base_dir"`
	Path      string          `yaml:"path"`
	Extractor ExtractorConfig `yaml:"extractor"`
}

type ExtractorConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type MCPConfig struct {
	Servers []mcp.ServerConfig `yaml:"servers"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses the configuration file, expanding environment
// variables before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.Reasoning.MaxIterations == 0 {
		cfg.Reasoning.MaxIterations = 3
	}
	if cfg.Reasoning.MinQualityDirect == 0 {
		cfg.Reasoning.MinQualityDirect = 0.60
	}
	if cfg.Reasoning.MinQualityLight == 0 {
		cfg.Reasoning.MinQualityLight = 0.65
	}
	if cfg.Reasoning.MinQualityDeep == 0 {
		cfg.Reasoning.MinQualityDeep = 0.60
	}
	if cfg.Reasoning.MinConfidence == 0 {
		cfg.Reasoning.MinConfidence = 0.60
	}
	if cfg.Connection.CheckInterval == 0 {
		cfg.Connection.CheckInterval = 30 * time.Second
	}
	if cfg.Connection.HealthTimeout == 0 {
		cfg.Connection.HealthTimeout = 5 * time.Second
	}
	if cfg.Connection.BaseBackoff == 0 {
		cfg.Connection.BaseBackoff = time.Second
	}
	if cfg.Connection.CeilingBackoff == 0 {
		cfg.Connection.CeilingBackoff = 60 * time.Second
	}
	if cfg.Connection.JitterLow == 0 {
		cfg.Connection.JitterLow = 0.8
	}
	if cfg.Connection.JitterHigh == 0 {
		cfg.Connection.JitterHigh = 1.2
	}
	if cfg.Connection.MaxAttempts == nil {
		attempts := 10
		cfg.Connection.MaxAttempts = &attempts
	}
	if cfg.Conversation.EnableCaching == nil {
		enabled := true
		cfg.Conversation.EnableCaching = &enabled
	}
	if cfg.Summarization.MinMessages == 0 {
		cfg.Summarization.MinMessages = 6
	}
	if cfg.Summarization.ReconcatGuardRatio == 0 {
		cfg.Summarization.ReconcatGuardRatio = 1.5
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "file"
	}
	if cfg.State.BaseDir == "" {
		cfg.State.BaseDir = ".meridian/state"
	}
	if cfg.State.Path == "" {
		cfg.State.Path = ".meridian/state.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks cross-field constraints after defaults have been applied.
func (c *Config) Validate() error {
	for name, q := range map[string]float64{
		"min_quality_direct": c.Reasoning.MinQualityDirect,
		"min_quality_light":  c.Reasoning.MinQualityLight,
		"min_quality_deep":   c.Reasoning.MinQualityDeep,
		"min_confidence":     c.Reasoning.MinConfidence,
	} {
		if q < 0 || q > 1 {
			return fmt.Errorf("reasoning.%s must be in [0,1], got %v", name, q)
		}
	}
	if fs := c.Reasoning.ForceStrategy; fs != "" && !models.Strategy(fs).Valid() {
		return fmt.Errorf("reasoning.force_strategy must be direct, light, or deep, got %q", fs)
	}
	if c.Connection.JitterLow > c.Connection.JitterHigh {
		return fmt.Errorf("connection jitter range inverted: %v > %v",
			c.Connection.JitterLow, c.Connection.JitterHigh)
	}
	if *c.Connection.MaxAttempts < 0 {
		return fmt.Errorf("connection.max_attempts must be >= 0")
	}
	if c.Summarization.ReconcatGuardRatio < 1 {
		return fmt.Errorf("summarization.reconcat_guard_ratio must be >= 1")
	}
	switch c.State.Backend {
	case "file", "memory", "sqlite":
	default:
		return fmt.Errorf("state.backend must be file, memory, or sqlite, got %q", c.State.Backend)
	}
	for i := range c.MCP.Servers {
		if err := c.MCP.Servers[i].Validate(); err != nil {
			return fmt.Errorf("mcp.servers[%d]: %w", i, err)
		}
	}
	return nil
}
