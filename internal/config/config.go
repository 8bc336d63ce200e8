// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/coval-cli/api/schemas"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Engine() EngineConfig
	Decision() DecisionConfig
	Metrics() MetricsConfig
	History() HistoryConfig
	MRE() MREConfig
	FixLoop() FixLoopConfig
	Sandbox() SandboxConfig
	LLM() LLMRouterConfig

	// Engine Setters
	SetEngineWorkerConcurrency(int)

	// FixLoop Setters
	SetFixLoopMaxIterations(int)
	SetFixLoopModel(string)

	// Sandbox Setters
	SetSandboxTimeout(d time.Duration)
	SetSandboxKeepOnFailure(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	EngineCfg   EngineConfig    `mapstructure:"engine" yaml:"engine"`
	DecisionCfg DecisionConfig  `mapstructure:"decision" yaml:"decision"`
	MetricsCfg  MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	HistoryCfg  HistoryConfig   `mapstructure:"history" yaml:"history"`
	MRECfg      MREConfig       `mapstructure:"mre" yaml:"mre"`
	FixLoopCfg  FixLoopConfig   `mapstructure:"fix_loop" yaml:"fix_loop"`
	SandboxCfg  SandboxConfig   `mapstructure:"sandbox" yaml:"sandbox"`
	LLMCfg      LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Decision() DecisionConfig { return c.DecisionCfg }
func (c *Config) Metrics() MetricsConfig   { return c.MetricsCfg }
func (c *Config) History() HistoryConfig   { return c.HistoryCfg }
func (c *Config) MRE() MREConfig           { return c.MRECfg }
func (c *Config) FixLoop() FixLoopConfig   { return c.FixLoopCfg }
func (c *Config) Sandbox() SandboxConfig   { return c.SandboxCfg }
func (c *Config) LLM() LLMRouterConfig     { return c.LLMCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineWorkerConcurrency(w int)  { c.EngineCfg.WorkerConcurrency = w }
func (c *Config) SetFixLoopMaxIterations(n int)     { c.FixLoopCfg.MaxIterations = n }
func (c *Config) SetFixLoopModel(m string)          { c.FixLoopCfg.Model = m }
func (c *Config) SetSandboxTimeout(d time.Duration) { c.SandboxCfg.Timeout = d }
func (c *Config) SetSandboxKeepOnFailure(b bool)    { c.SandboxCfg.KeepWorkspaceOnFailure = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EngineConfig configures the repair orchestrator.
type EngineConfig struct {
	WorkerConcurrency  int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout" yaml:"default_task_timeout"`
	ArtifactDir        string        `mapstructure:"artifact_dir" yaml:"artifact_dir"`
}

// DecisionConfig holds the calibration of the repair/rebuild cost model.
type DecisionConfig struct {
	Gamma                 float64 `mapstructure:"gamma" yaml:"gamma"`
	Lambda                float64 `mapstructure:"lambda" yaml:"lambda"`
	Alpha                 float64 `mapstructure:"alpha" yaml:"alpha"`
	Beta                  float64 `mapstructure:"beta" yaml:"beta"`
	GammaPrime            float64 `mapstructure:"gamma_prime" yaml:"gamma_prime"`
	Delta                 float64 `mapstructure:"delta" yaml:"delta"`
	Eta                   float64 `mapstructure:"eta" yaml:"eta"`
	RebuildBias           float64 `mapstructure:"rebuild_bias" yaml:"rebuild_bias"`
	MinSuccessProbability float64 `mapstructure:"min_success_probability" yaml:"min_success_probability"`
	DefaultRebuildCost    float64 `mapstructure:"default_rebuild_cost" yaml:"default_rebuild_cost"`
}

// Weights converts the calibration into the snapshot embedded in metrics.
func (d DecisionConfig) Weights() schemas.CalibrationWeights {
	return schemas.CalibrationWeights{
		Gamma:      d.Gamma,
		Lambda:     d.Lambda,
		Alpha:      d.Alpha,
		Beta:       d.Beta,
		GammaPrime: d.GammaPrime,
		Delta:      d.Delta,
		Eta:        d.Eta,
	}
}

// MetricsConfig tunes the capability estimate and triage scoring.
type MetricsConfig struct {
	TokenBonusMultiplier   float64 `mapstructure:"token_bonus_multiplier" yaml:"token_bonus_multiplier"`
	ContextBonusMultiplier float64 `mapstructure:"context_bonus_multiplier" yaml:"context_bonus_multiplier"`
	TemperaturePenalty     float64 `mapstructure:"temperature_penalty" yaml:"temperature_penalty"`
	MaxCapability          float64 `mapstructure:"max_capability" yaml:"max_capability"`
	HistoryWeight          float64 `mapstructure:"history_weight" yaml:"history_weight"`
}

// HistoryConfig configures the adaptive outcome store.
type HistoryConfig struct {
	Path        string  `mapstructure:"path" yaml:"path"`
	DecayFactor float64 `mapstructure:"decay_factor" yaml:"decay_factor"`
	MinSamples  int     `mapstructure:"min_samples" yaml:"min_samples"`
	MaxBonus    float64 `mapstructure:"max_bonus" yaml:"max_bonus"`
}

// MREConfig configures minimal reproducible example extraction.
type MREConfig struct {
	NeighborDepth    int   `mapstructure:"neighbor_depth" yaml:"neighbor_depth"`
	FallbackMaxBytes int64 `mapstructure:"fallback_max_bytes" yaml:"fallback_max_bytes"`
	MaxFiles         int   `mapstructure:"max_files" yaml:"max_files"`
}

// FixLoopConfig configures the iterative generate/validate cycle.
type FixLoopConfig struct {
	MaxIterations int    `mapstructure:"max_iterations" yaml:"max_iterations"`
	Model         string `mapstructure:"model" yaml:"model"`
}

// SandboxConfig configures isolated validation runs.
type SandboxConfig struct {
	Backend                string        `mapstructure:"backend" yaml:"backend"`
	Image                  string        `mapstructure:"image" yaml:"image"`
	Timeout                time.Duration `mapstructure:"timeout" yaml:"timeout"`
	KeepWorkspaceOnFailure bool          `mapstructure:"keep_workspace_on_failure" yaml:"keep_workspace_on_failure"`
	WorkDir                string        `mapstructure:"work_dir" yaml:"work_dir"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
	ProviderOllama LLMProvider = "ollama"
)

// LLMRouterConfig configures the model routing logic and the capability
// profile table. Profiles is a closed set keyed by model identifier; lookups
// for unknown models resolve to FallbackProfile.
type LLMRouterConfig struct {
	DefaultModel    string                    `mapstructure:"default_model" yaml:"default_model"`
	RequestsPerMin  float64                   `mapstructure:"requests_per_min" yaml:"requests_per_min"`
	Models          map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
	Profiles        map[string]ModelProfile   `mapstructure:"profiles" yaml:"profiles"`
	FallbackProfile ModelProfile              `mapstructure:"fallback_profile" yaml:"fallback_profile"`
}

// Profile resolves a model identifier against the profile table, falling back
// to the conservative fallback entry for unknown identifiers.
func (r LLMRouterConfig) Profile(model string) schemas.ModelProfile {
	p, ok := r.Profiles[model]
	if !ok {
		p = r.FallbackProfile
	}
	return p.toSchema(model)
}

// ModelProfile is the configuration form of a model capability profile.
type ModelProfile struct {
	Provider       string  `mapstructure:"provider" yaml:"provider"`
	BaseCapability float64 `mapstructure:"base_capability" yaml:"base_capability"`
	MaxTokens      int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	ContextWindow  int     `mapstructure:"context_window" yaml:"context_window"`
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature"`
}

func (p ModelProfile) toSchema(id string) schemas.ModelProfile {
	return schemas.ModelProfile{
		ID:             id,
		Provider:       p.Provider,
		BaseCapability: p.BaseCapability,
		MaxTokens:      p.MaxTokens,
		ContextWindow:  p.ContextWindow,
		Temperature:    p.Temperature,
	}
}

// LLMModelConfig defines the connection settings for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "coval-cli")
	v.SetDefault("logger.log_file", "coval.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.default_task_timeout", "15m")
	v.SetDefault("engine.artifact_dir", ".coval")

	// -- Decision --
	v.SetDefault("decision.gamma", 1.0)
	v.SetDefault("decision.lambda", 0.5)
	v.SetDefault("decision.alpha", 0.4)
	v.SetDefault("decision.beta", 0.3)
	v.SetDefault("decision.gamma_prime", 0.5)
	v.SetDefault("decision.delta", 0.2)
	v.SetDefault("decision.eta", 0.15)
	v.SetDefault("decision.rebuild_bias", 1.5)
	v.SetDefault("decision.min_success_probability", 0.3)
	v.SetDefault("decision.default_rebuild_cost", 100.0)

	// -- Metrics --
	v.SetDefault("metrics.token_bonus_multiplier", 0.0001)
	v.SetDefault("metrics.context_bonus_multiplier", 0.0001)
	v.SetDefault("metrics.temperature_penalty", 0.2)
	v.SetDefault("metrics.max_capability", 0.95)
	v.SetDefault("metrics.history_weight", 0.3)

	// -- History --
	v.SetDefault("history.path", "coval_history.db")
	v.SetDefault("history.decay_factor", 0.9)
	v.SetDefault("history.min_samples", 5)
	v.SetDefault("history.max_bonus", 0.1)

	// -- MRE --
	v.SetDefault("mre.neighbor_depth", 1)
	v.SetDefault("mre.fallback_max_bytes", 2*1024*1024)
	v.SetDefault("mre.max_files", 200)

	// -- Fix loop --
	v.SetDefault("fix_loop.max_iterations", 5)
	v.SetDefault("fix_loop.model", "gemini-2.5-pro")

	// -- Sandbox --
	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.image", "")
	v.SetDefault("sandbox.timeout", "5m")
	v.SetDefault("sandbox.keep_workspace_on_failure", false)

	// -- LLM --
	v.SetDefault("llm.default_model", "gemini-2.5-pro")
	v.SetDefault("llm.requests_per_min", 30.0)
	v.SetDefault("llm.fallback_profile.provider", "ollama")
	v.SetDefault("llm.fallback_profile.base_capability", 0.5)
	v.SetDefault("llm.fallback_profile.max_tokens", 4096)
	v.SetDefault("llm.fallback_profile.context_window", 8192)
	v.SetDefault("llm.fallback_profile.temperature", 0.2)
	v.SetDefault("llm.profiles.gemini-2.5-pro.provider", "gemini")
	v.SetDefault("llm.profiles.gemini-2.5-pro.base_capability", 0.85)
	v.SetDefault("llm.profiles.gemini-2.5-pro.max_tokens", 65536)
	v.SetDefault("llm.profiles.gemini-2.5-pro.context_window", 1048576)
	v.SetDefault("llm.profiles.gemini-2.5-pro.temperature", 0.2)
	v.SetDefault("llm.profiles.gemini-2.5-flash.provider", "gemini")
	v.SetDefault("llm.profiles.gemini-2.5-flash.base_capability", 0.7)
	v.SetDefault("llm.profiles.gemini-2.5-flash.max_tokens", 65536)
	v.SetDefault("llm.profiles.gemini-2.5-flash.context_window", 1048576)
	v.SetDefault("llm.profiles.gemini-2.5-flash.temperature", 0.2)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("llm.models.gemini.api_key", "COVAL_GEMINI_API_KEY")
	v.BindEnv("llm.models.openai.api_key", "COVAL_OPENAI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load keys if Unmarshal didn't pick them up.
	if m, ok := cfg.LLMCfg.Models["gemini"]; ok && m.APIKey == "" {
		m.APIKey = os.Getenv("COVAL_GEMINI_API_KEY")
		cfg.LLMCfg.Models["gemini"] = m
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if err := c.DecisionCfg.Validate(); err != nil {
		return fmt.Errorf("decision configuration invalid: %w", err)
	}
	if err := c.MetricsCfg.Validate(); err != nil {
		return fmt.Errorf("metrics configuration invalid: %w", err)
	}
	if err := c.HistoryCfg.Validate(); err != nil {
		return fmt.Errorf("history configuration invalid: %w", err)
	}
	if err := c.FixLoopCfg.Validate(); err != nil {
		return fmt.Errorf("fix_loop configuration invalid: %w", err)
	}
	if err := c.SandboxCfg.Validate(); err != nil {
		return fmt.Errorf("sandbox configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the decision model calibration.
func (d *DecisionConfig) Validate() error {
	if d.Gamma <= 0 {
		return fmt.Errorf("gamma must be greater than 0")
	}
	if d.Lambda < 0 {
		return fmt.Errorf("lambda must not be negative")
	}
	if d.RebuildBias <= 0 {
		return fmt.Errorf("rebuild_bias must be greater than 0")
	}
	if d.MinSuccessProbability < 0.0 || d.MinSuccessProbability > 1.0 {
		return fmt.Errorf("min_success_probability must be between 0.0 and 1.0")
	}
	if d.DefaultRebuildCost <= 0 {
		return fmt.Errorf("default_rebuild_cost must be greater than 0")
	}
	return nil
}

// Validate checks the capability estimate settings.
func (m *MetricsConfig) Validate() error {
	if m.MaxCapability <= 0.0 || m.MaxCapability > 1.0 {
		return fmt.Errorf("max_capability must be in (0.0, 1.0]")
	}
	if m.HistoryWeight < 0 {
		return fmt.Errorf("history_weight must not be negative")
	}
	return nil
}

// Validate checks the history store settings.
func (h *HistoryConfig) Validate() error {
	if h.DecayFactor <= 0.0 || h.DecayFactor > 1.0 {
		return fmt.Errorf("decay_factor must be in (0.0, 1.0]")
	}
	if h.MinSamples < 0 {
		return fmt.Errorf("min_samples must not be negative")
	}
	return nil
}

// Validate checks the fix loop settings.
func (f *FixLoopConfig) Validate() error {
	if f.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be greater than 0")
	}
	return nil
}

// Validate checks the sandbox settings.
func (s *SandboxConfig) Validate() error {
	switch s.Backend {
	case "docker", "process":
	default:
		return fmt.Errorf("backend must be one of: docker, process")
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	return nil
}
