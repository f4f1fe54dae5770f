// Package config loads locklevels settings from defaults, an optional config
// file and LOCKLEVELS_* environment variables, in increasing precedence.
// Command-line flags are applied on top by the caller.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	dberror "locklevels/pkg/error"
	"locklevels/pkg/graph"
	"locklevels/pkg/harness"
	"locklevels/pkg/logging"
)

const EnvPrefix = "LOCKLEVELS"

// Config groups every setting the CLI needs.
type Config struct {
	Manager ManagerConfig `mapstructure:"manager"`
	Harness HarnessConfig `mapstructure:"harness"`
	Graph   GraphConfig   `mapstructure:"graph"`
	Log     LogConfig     `mapstructure:"log"`
	Viewer  ViewerConfig  `mapstructure:"viewer"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type ManagerConfig struct {
	Name string `mapstructure:"name"`
}

type HarnessConfig struct {
	Workers         int           `mapstructure:"workers"`
	Keys            int           `mapstructure:"keys"`
	Duration        time.Duration `mapstructure:"duration"`
	OpsPerWorker    int           `mapstructure:"ops_per_worker"`
	Mix             MixConfig     `mapstructure:"mix"`
	StructuralRate  float64       `mapstructure:"structural_rate"`
	StructuralBurst int           `mapstructure:"structural_burst"`
	StallTimeout    time.Duration `mapstructure:"stall_timeout"`
	Seed            uint64        `mapstructure:"seed"`
}

type MixConfig struct {
	Read       int `mapstructure:"read"`
	Write      int `mapstructure:"write"`
	Checkpoint int `mapstructure:"checkpoint"`
	Structural int `mapstructure:"structural"`
}

// GraphConfig sizes the graph store the CLI exercises after the stress run.
type GraphConfig struct {
	Nodes           int `mapstructure:"nodes"`
	InitialCapacity int `mapstructure:"initial_capacity"`
	Parallelism     int `mapstructure:"parallelism"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	File   string `mapstructure:"file"`
	Format string `mapstructure:"format"`
}

type ViewerConfig struct {
	Refresh time.Duration `mapstructure:"refresh"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	h := harness.DefaultConfig()

	v.SetDefault("manager.name", "locklevels")

	v.SetDefault("harness.workers", h.Workers)
	v.SetDefault("harness.keys", h.Keys)
	v.SetDefault("harness.duration", h.Duration)
	v.SetDefault("harness.ops_per_worker", h.OpsPerWorker)
	v.SetDefault("harness.mix.read", h.Mix.Read)
	v.SetDefault("harness.mix.write", h.Mix.Write)
	v.SetDefault("harness.mix.checkpoint", h.Mix.Checkpoint)
	v.SetDefault("harness.mix.structural", h.Mix.Structural)
	v.SetDefault("harness.structural_rate", h.StructuralRate)
	v.SetDefault("harness.structural_burst", h.StructuralBurst)
	v.SetDefault("harness.stall_timeout", h.StallTimeout)
	v.SetDefault("harness.seed", h.Seed)

	v.SetDefault("graph.nodes", 4096)
	v.SetDefault("graph.initial_capacity", 64)
	v.SetDefault("graph.parallelism", 8)

	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.file", "")
	v.SetDefault("log.format", "text")

	v.SetDefault("viewer.refresh", 100*time.Millisecond)

	v.SetDefault("metrics.addr", "")
}

// Default returns the built-in configuration, ignoring the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		panic(err)
	}
	return c
}

// Load reads path, if not empty, over the defaults and applies environment
// overrides such as LOCKLEVELS_HARNESS_WORKERS. A missing file is an error;
// the file format follows its extension.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, configError("CONFIG_NOT_FOUND", "config file not readable", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, configError("CONFIG_READ_FAILED", "config file could not be parsed", err)
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, configError("CONFIG_DECODE_FAILED", "config values have the wrong type", err)
	}
	return c, nil
}

func configError(code, message string, cause error) *dberror.LockError {
	err := dberror.Wrap(cause, code, "Load", "config")
	err.Category = dberror.ErrCategoryConfig
	err.Message = message
	return err
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.HarnessConfig().Validate(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return dberror.New(dberror.ErrCategoryConfig, "INVALID_LOG_LEVEL", err.Error())
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return dberror.New(dberror.ErrCategoryConfig, "INVALID_LOG_FORMAT",
			"log format must be text or json").WithDetail(c.Log.Format)
	}
	if c.Graph.Nodes < 0 || c.Graph.InitialCapacity < 1 || c.Graph.Parallelism < 1 {
		return dberror.New(dberror.ErrCategoryConfig, "INVALID_GRAPH",
			"graph nodes must not be negative; capacity and parallelism must be positive")
	}
	if c.Graph.Nodes > graph.MaxNodes {
		return dberror.New(dberror.ErrCategoryConfig, "INVALID_GRAPH",
			"graph nodes exceed the node table limit").WithDetail(fmt.Sprintf("%d > %d", c.Graph.Nodes, graph.MaxNodes))
	}
	if c.Viewer.Refresh <= 0 {
		return dberror.New(dberror.ErrCategoryConfig, "INVALID_REFRESH", "viewer refresh must be positive")
	}
	return nil
}

// HarnessConfig converts the harness section.
func (c *Config) HarnessConfig() harness.Config {
	h := c.Harness
	return harness.Config{
		Workers:      h.Workers,
		Keys:         h.Keys,
		Duration:     h.Duration,
		OpsPerWorker: h.OpsPerWorker,
		Mix: harness.Mix{
			Read:       h.Mix.Read,
			Write:      h.Mix.Write,
			Checkpoint: h.Mix.Checkpoint,
			Structural: h.Mix.Structural,
		},
		StructuralRate:  h.StructuralRate,
		StructuralBurst: h.StructuralBurst,
		StallTimeout:    h.StallTimeout,
		Seed:            h.Seed,
	}
}

// LoggingConfig converts the log section. Validate first; an unknown level
// falls back to INFO.
func (c *Config) LoggingConfig() logging.Config {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.Config{
		Level:      level,
		OutputPath: c.Log.File,
		Format:     c.Log.Format,
	}
}
