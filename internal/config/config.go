// Package config loads and validates the immutable run configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"inferload/internal/loadgen"
	"inferload/internal/metrics"
)

// Config holds everything one invocation needs. Constructed once,
// validated, then passed read-only into the orchestrator.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Load    LoadConfig    `mapstructure:"load"`
	Data    DataConfig    `mapstructure:"data"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig selects and configures the model-server adapter.
type ServerConfig struct {
	Type      string        `mapstructure:"type"` // "openai" or "mock"
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	APIKey    string        `mapstructure:"api_key"`
	IgnoreEOS bool          `mapstructure:"ignore_eos"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// LoadConfig shapes the offered load and the pool that delivers it.
type LoadConfig struct {
	Type                 loadgen.LoadType    `mapstructure:"type"`
	Seed                 int64               `mapstructure:"seed"`
	NumWorkers           int                 `mapstructure:"num_workers"`
	WorkerMaxConcurrency int                 `mapstructure:"worker_max_concurrency"`
	WorkerMaxConns       int                 `mapstructure:"worker_max_conns"`
	StageInterval        time.Duration       `mapstructure:"stage_interval"`
	DrainGrace           time.Duration       `mapstructure:"drain_grace"`
	Stages               []loadgen.RateStage `mapstructure:"stages"`
	Sweep                SweepConfig         `mapstructure:"sweep"`
}

// SweepConfig governs rate discovery for sweep stages.
type SweepConfig struct {
	Steps            int           `mapstructure:"steps"`
	Progression      string        `mapstructure:"progression"` // "linear" or "geometric"
	ProbeConcurrency int           `mapstructure:"probe_concurrency"`
	ProbeWindow      time.Duration `mapstructure:"probe_window"`
}

// DataConfig selects the payload generator.
type DataConfig struct {
	Type         string `mapstructure:"type"` // "synthetic" or "fixed"
	Prompt       string `mapstructure:"prompt"`
	InputTokens  int    `mapstructure:"input_tokens"`
	OutputTokens int    `mapstructure:"output_tokens"`
}

// MetricsConfig wires the optional server-side metrics client.
type MetricsConfig struct {
	Prometheus *PrometheusConfig `mapstructure:"prometheus"`
}

type PrometheusConfig struct {
	URL     string                 `mapstructure:"url"`
	Metrics []metrics.ServerMetric `mapstructure:"metrics"`
}

// StorageConfig locates the report sink and run history.
type StorageConfig struct {
	Path    string `mapstructure:"path"` // reports directory
	History string `mapstructure:"history"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load reads the config file (optional), applies INFERLOAD_* env
// overrides and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("INFERLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.type", "openai")
	v.SetDefault("server.timeout", 120*time.Second)

	v.SetDefault("load.type", string(loadgen.LoadConstant))
	v.SetDefault("load.worker_max_concurrency", 100)
	v.SetDefault("load.worker_max_conns", 2000)
	v.SetDefault("load.drain_grace", 30*time.Second)
	v.SetDefault("load.sweep.steps", 5)
	v.SetDefault("load.sweep.progression", string(loadgen.ProgressionLinear))
	v.SetDefault("load.sweep.probe_concurrency", 1000)
	v.SetDefault("load.sweep.probe_window", 10*time.Second)

	v.SetDefault("data.type", "synthetic")
	v.SetDefault("data.input_tokens", 128)
	v.SetDefault("data.output_tokens", 128)

	v.SetDefault("storage.path", fmt.Sprintf("reports-%s", time.Now().Format("20060102-150405")))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks the configuration before any stage runs. Errors name
// the offending stage or field.
func (c *Config) Validate() error {
	switch c.Server.Type {
	case "openai":
		if c.Server.BaseURL == "" {
			return fmt.Errorf("server.base_url is required for server type %q", c.Server.Type)
		}
		if c.Server.Model == "" {
			return fmt.Errorf("server.model is required for server type %q", c.Server.Type)
		}
	case "mock":
	default:
		return fmt.Errorf("unknown server.type %q", c.Server.Type)
	}

	if len(c.Load.Stages) == 0 {
		return fmt.Errorf("load.stages must contain at least one stage")
	}
	for i, stage := range c.Load.Stages {
		if stage.Duration <= 0 {
			return fmt.Errorf("load.stages[%d]: duration must be positive, got %s", i, stage.Duration)
		}
		if !stage.Sweep && stage.Rate <= 0 {
			return fmt.Errorf("load.stages[%d]: rate must be positive, got %g", i, stage.Rate)
		}
		switch stage.Type {
		case loadgen.LoadConstant, loadgen.LoadPoisson, "":
		default:
			return fmt.Errorf("load.stages[%d]: unknown load type %q", i, stage.Type)
		}
	}

	switch loadgen.Progression(c.Load.Sweep.Progression) {
	case loadgen.ProgressionLinear, loadgen.ProgressionGeometric, "":
	default:
		return fmt.Errorf("load.sweep.progression must be linear or geometric, got %q", c.Load.Sweep.Progression)
	}
	if c.Load.Sweep.Steps < 1 {
		return fmt.Errorf("load.sweep.steps must be at least 1, got %d", c.Load.Sweep.Steps)
	}

	switch c.Data.Type {
	case "synthetic", "fixed", "":
	default:
		return fmt.Errorf("unknown data.type %q", c.Data.Type)
	}

	if c.Metrics.Prometheus != nil && c.Metrics.Prometheus.URL == "" {
		return fmt.Errorf("metrics.prometheus.url is required when prometheus metrics are enabled")
	}
	return nil
}

// DefaultedStages returns the stages with the run-level load type
// applied where a stage does not set its own.
func (c *Config) DefaultedStages() []loadgen.RateStage {
	stages := make([]loadgen.RateStage, len(c.Load.Stages))
	copy(stages, c.Load.Stages)
	for i := range stages {
		if stages[i].Type == "" {
			stages[i].Type = c.Load.Type
		}
	}
	return stages
}
