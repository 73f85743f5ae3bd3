// Package config holds the ecoswarm runtime configuration: YAML file on
// disk, environment overrides on top.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LLMConfig configures the Gemini-backed candidate generator.
type LLMConfig struct {
	APIKey  string        `yaml:"api_key" json:"api_key"`
	Model   string        `yaml:"model" json:"model"`
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// BusConfig configures per-handler delivery retry.
type BusConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"`
}

// TrustConfig configures the reputation engine.
type TrustConfig struct {
	AuditProbability float64 `yaml:"audit_probability" json:"audit_probability"`
	ShunThreshold    float64 `yaml:"shun_threshold" json:"shun_threshold"`
	EscrowPenalty    float64 `yaml:"escrow_penalty" json:"escrow_penalty"`
}

// DAOConfig configures weighted voting.
type DAOConfig struct {
	VotingWindow time.Duration      `yaml:"voting_window" json:"voting_window"`
	Weights      map[string]float64 `yaml:"weights" json:"weights"`
}

// DaydreamConfig configures candidate scoring weights.
type DaydreamConfig struct {
	Financial  float64 `yaml:"financial" json:"financial"`
	Ecological float64 `yaml:"ecological" json:"ecological"`
	Social     float64 `yaml:"social" json:"social"`
	Risk       float64 `yaml:"risk" json:"risk"`
	ESGBonus   float64 `yaml:"esg_bonus" json:"esg_bonus"`
	ESGPenalty float64 `yaml:"esg_penalty" json:"esg_penalty"`
}

// SinkConfig selects the event sink backend.
type SinkConfig struct {
	// Driver is "jsonl", "sqlite", or "none".
	Driver string `yaml:"driver" json:"driver"`
	Path   string `yaml:"path" json:"path"`
}

// Config is the root configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm" json:"llm"`
	Bus      BusConfig      `yaml:"bus" json:"bus"`
	Trust    TrustConfig    `yaml:"trust" json:"trust"`
	DAO      DAOConfig      `yaml:"dao" json:"dao"`
	Daydream DaydreamConfig `yaml:"daydream" json:"daydream"`
	Sink     SinkConfig     `yaml:"sink" json:"sink"`
	// Seed makes the random generator and audit stream reproducible when
	// non-zero.
	Seed int64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:   "gemini-2.5-flash",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: 2 * time.Minute,
		},
		Bus: BusConfig{
			MaxAttempts: 3,
			BackoffBase: 50 * time.Millisecond,
		},
		Trust: TrustConfig{
			AuditProbability: 0.05,
			ShunThreshold:    50,
			EscrowPenalty:    30,
		},
		DAO: DAOConfig{
			VotingWindow: 24 * time.Hour,
			Weights: map[string]float64{
				"community": 2,
				"experts":   1.5,
				"funders":   1,
			},
		},
		Daydream: DaydreamConfig{
			Financial:  1,
			Ecological: 1,
			Social:     1,
			Risk:       0.2,
			ESGBonus:   5,
			ESGPenalty: -5,
		},
		Sink: SinkConfig{
			Driver: "jsonl",
			Path:   ".ecoswarm/events.jsonl",
		},
	}
}

// Load reads the config file at path over the defaults, then applies env
// overrides. A missing file is not an error; overrides still apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides layers environment variables over the file config.
// GEMINI_API_KEY wins over GOOGLE_API_KEY.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if path := os.Getenv("ECOSWARM_EVENT_LOG"); path != "" {
		c.Sink.Path = path
	}
}
