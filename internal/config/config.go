// Package config loads the conductor configuration file with environment
// variable expansion and defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for conductor.
type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	Tools       ToolsConfig       `yaml:"tools"`
	Supervision SupervisionConfig `yaml:"supervision"`
	Compaction  CompactionConfig  `yaml:"compaction"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Agents      []AgentConfig     `yaml:"agents"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	DefaultModel    string                       `yaml:"default_model"`
	MaxTokens       int                          `yaml:"max_tokens"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type ToolsConfig struct {
	// Timeout bounds one tool execution.
	Timeout time.Duration `yaml:"timeout"`

	// ApprovalTimeout bounds a pending human approval.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`

	// AlwaysHuman lists tools that always require an explicit human decision.
	AlwaysHuman []string `yaml:"always_human"`

	// Aliases maps alternate tool ids to canonical names.
	Aliases map[string]string `yaml:"aliases"`
}

type SupervisionConfig struct {
	// Enabled routes risky tool calls through the rule/model/human gate.
	Enabled bool `yaml:"enabled"`

	// JudgeModel is the model used for tier-2 review. Empty skips the model
	// tier and escalates straight to human review.
	JudgeModel string `yaml:"judge_model"`

	// EscalationTimeout bounds tier-3 human review.
	EscalationTimeout time.Duration `yaml:"escalation_timeout"`
}

type CompactionConfig struct {
	// ContextWindow overrides the model-based window lookup when positive.
	ContextWindow int `yaml:"context_window"`

	TriggerRatio    float64 `yaml:"trigger_ratio"`
	KeepRecentPairs int     `yaml:"keep_recent_pairs"`
	MaxResultTokens int     `yaml:"max_result_tokens"`
}

type CorrelationConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
	IdleTTL     time.Duration `yaml:"idle_ttl"`
}

type AgentConfig struct {
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description"`
	SystemPrompt     string   `yaml:"system_prompt"`
	Model            string   `yaml:"model"`
	MaxDepth         int      `yaml:"max_depth"`
	AllowedSubAgents []string `yaml:"allowed_sub_agents"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file. Environment variables in
// the file body are expanded before parsing.
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

// Default returns the configuration used when no file is given. API keys
// come from the conventional environment variables.
func Default() *Config {
	cfg := &Config{
		LLM: LLMConfig{
			Providers: map[string]LLMProviderConfig{
				"anthropic": {APIKey: os.Getenv("ANTHROPIC_API_KEY")},
				"openai":    {APIKey: os.Getenv("OPENAI_API_KEY")},
			},
		},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 8192
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 2 * time.Minute
	}
	if cfg.Tools.ApprovalTimeout == 0 {
		cfg.Tools.ApprovalTimeout = 5 * time.Minute
	}
	if cfg.Supervision.EscalationTimeout == 0 {
		cfg.Supervision.EscalationTimeout = 5 * time.Minute
	}
	if cfg.Compaction.TriggerRatio == 0 {
		cfg.Compaction.TriggerRatio = 0.7
	}
	if cfg.Compaction.KeepRecentPairs == 0 {
		cfg.Compaction.KeepRecentPairs = 5
	}
	if cfg.Correlation.CallTimeout == 0 {
		cfg.Correlation.CallTimeout = 15 * time.Second
	}
	if cfg.Correlation.IdleTTL == 0 {
		cfg.Correlation.IdleTTL = 10 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
