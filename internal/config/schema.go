package config

import (
	"time"

	"github.com/Davinchi1352/bukoai-sub001/internal/chunkplan"
	"github.com/Davinchi1352/bukoai-sub001/internal/coherence"
	"github.com/Davinchi1352/bukoai-sub001/internal/jobs"
	"github.com/Davinchi1352/bukoai-sub001/internal/resilience"
)

// Config holds bukoai configuration.
// Loaded from config.yaml with BUKOAI_* environment overrides.
type Config struct {
	Server    ServerCfg    `mapstructure:"server" yaml:"server"`
	Provider  ProviderCfg  `mapstructure:"provider" yaml:"provider"`
	Engine    EngineCfg    `mapstructure:"engine" yaml:"engine"`
	RateLimit RateLimitCfg `mapstructure:"rate_limit" yaml:"rate_limit"`
	Redis     RedisCfg     `mapstructure:"redis" yaml:"redis"`
	Pricing   PricingCfg   `mapstructure:"pricing" yaml:"pricing"`
	Output    OutputCfg    `mapstructure:"output" yaml:"output"`
}

// ServerCfg configures the HTTP API.
type ServerCfg struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// ProviderCfg configures the streaming LLM provider.
type ProviderCfg struct {
	Type    string `mapstructure:"type" yaml:"type"`         // "anthropic", "openai"
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`   // supports ${ENV_VAR} syntax
	BaseURL string `mapstructure:"base_url" yaml:"base_url"` // empty uses the provider default
	Model   string `mapstructure:"model" yaml:"model"`

	// MaxOutputTokens bounds a single chunk generation call.
	MaxOutputTokens int `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	// ReasoningBudget enables extended thinking when > 0.
	ReasoningBudget int `mapstructure:"reasoning_budget" yaml:"reasoning_budget"`
}

// EngineCfg holds the generation engine tunables.
type EngineCfg struct {
	CharsPerPage        int     `mapstructure:"chars_per_page" yaml:"chars_per_page"`
	MaxChaptersPerChunk int     `mapstructure:"max_chapters_per_chunk" yaml:"max_chapters_per_chunk"`
	MaxPagesPerChunk    int     `mapstructure:"max_pages_per_chunk" yaml:"max_pages_per_chunk"`
	ToleranceLower      float64 `mapstructure:"tolerance_lower" yaml:"tolerance_lower"`
	ToleranceUpper      float64 `mapstructure:"tolerance_upper" yaml:"tolerance_upper"`
	MaxExpansions       int     `mapstructure:"max_expansions" yaml:"max_expansions"`

	BreakerThreshold   int           `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerCooldown    time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
	BreakerMaxCooldown time.Duration `mapstructure:"breaker_max_cooldown" yaml:"breaker_max_cooldown"`

	RetryAttempts  uint          `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay" yaml:"rate_limit_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`
	StallTimeout   time.Duration `mapstructure:"stall_timeout" yaml:"stall_timeout"`

	ArchitectureTimeout time.Duration `mapstructure:"architecture_timeout" yaml:"architecture_timeout"`
	ChunkTimeout        time.Duration `mapstructure:"chunk_timeout" yaml:"chunk_timeout"`

	Workers    int           `mapstructure:"workers" yaml:"workers"`
	DeferDelay time.Duration `mapstructure:"defer_delay" yaml:"defer_delay"`
}

// RateLimitCfg caps per-user admissions over a rolling window.
type RateLimitCfg struct {
	ArchitecturePerWindow int           `mapstructure:"architecture_per_window" yaml:"architecture_per_window"`
	GenerationsPerWindow  int           `mapstructure:"generations_per_window" yaml:"generations_per_window"`
	Window                time.Duration `mapstructure:"window" yaml:"window"`
}

// RedisCfg configures the optional Redis backend. When Addr is empty the
// in-memory store and limiter are used instead.
type RedisCfg struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"` // supports ${ENV_VAR} syntax
	DB       int           `mapstructure:"db" yaml:"db"`
	JobTTL   time.Duration `mapstructure:"job_ttl" yaml:"job_ttl"`
}

// PricingCfg holds per-million-token prices for cost estimation.
type PricingCfg struct {
	PromptPerMTok     float64 `mapstructure:"prompt_per_mtok" yaml:"prompt_per_mtok"`
	CompletionPerMTok float64 `mapstructure:"completion_per_mtok" yaml:"completion_per_mtok"`
}

// OutputCfg configures manuscript artifact output.
type OutputCfg struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Addr: ":8080",
		},
		Provider: ProviderCfg{
			Type:            "anthropic",
			APIKey:          "${ANTHROPIC_API_KEY}",
			Model:           "claude-sonnet-4-20250514",
			MaxOutputTokens: 32768,
			ReasoningBudget: 4096,
		},
		Engine: EngineCfg{
			CharsPerPage:        2800,
			MaxChaptersPerChunk: 5,
			MaxPagesPerChunk:    40,
			ToleranceLower:      0.90,
			ToleranceUpper:      1.10,
			MaxExpansions:       2,
			BreakerThreshold:    5,
			BreakerCooldown:     5 * time.Minute,
			BreakerMaxCooldown:  30 * time.Minute,
			RetryAttempts:       4,
			RetryBaseDelay:      time.Second,
			RateLimitDelay:      10 * time.Second,
			RetryMaxDelay:       60 * time.Second,
			StallTimeout:        20 * time.Minute,
			ArchitectureTimeout: 40 * time.Minute,
			ChunkTimeout:        60 * time.Minute,
			Workers:             4,
			DeferDelay:          time.Minute,
		},
		RateLimit: RateLimitCfg{
			ArchitecturePerWindow: 10,
			GenerationsPerWindow:  3,
			Window:                time.Hour,
		},
		Redis: RedisCfg{
			JobTTL: 7 * 24 * time.Hour,
		},
		Pricing: PricingCfg{
			PromptPerMTok:     3.0,
			CompletionPerMTok: 15.0,
		},
		Output: OutputCfg{
			Dir: "output",
		},
	}
}

// BreakerConfig converts engine tunables for the circuit breaker.
func (c *Config) BreakerConfig() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		Name:             c.Provider.Type,
		FailureThreshold: c.Engine.BreakerThreshold,
		Cooldown:         c.Engine.BreakerCooldown,
		MaxCooldown:      c.Engine.BreakerMaxCooldown,
	}
}

// RetryConfig converts engine tunables for the retrying caller.
func (c *Config) RetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		Attempts:       c.Engine.RetryAttempts,
		BaseDelay:      c.Engine.RetryBaseDelay,
		RateLimitDelay: c.Engine.RateLimitDelay,
		MaxDelay:       c.Engine.RetryMaxDelay,
		StallTimeout:   c.Engine.StallTimeout,
	}
}

// ChunkLimits converts engine tunables for the chunk planner.
func (c *Config) ChunkLimits() chunkplan.Limits {
	return chunkplan.Limits{
		MaxChapters: c.Engine.MaxChaptersPerChunk,
		MaxPages:    c.Engine.MaxPagesPerChunk,
	}
}

// PagePolicy converts the page measurement heuristic.
func (c *Config) PagePolicy() coherence.PagePolicy {
	return coherence.PagePolicy{CharsPerPage: c.Engine.CharsPerPage}
}

// RateLimits converts the per-user admission caps.
func (c *Config) RateLimits() jobs.RateLimits {
	return jobs.RateLimits{
		ArchitecturePerWindow: c.RateLimit.ArchitecturePerWindow,
		GenerationsPerWindow:  c.RateLimit.GenerationsPerWindow,
		Window:                c.RateLimit.Window,
	}
}

// JobPricing converts per-MTok prices for usage cost estimation.
func (c *Config) JobPricing() jobs.Pricing {
	return jobs.Pricing{
		PromptPerMTok:     c.Pricing.PromptPerMTok,
		CompletionPerMTok: c.Pricing.CompletionPerMTok,
	}
}

// ResolveAPIKey returns the provider API key with ${ENV_VAR} references
// expanded.
func (c *Config) ResolveAPIKey() string {
	return ResolveEnvVars(c.Provider.APIKey)
}
