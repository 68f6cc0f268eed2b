// Package config loads plumber settings from defaults, an optional YAML
// file, PLUMBER_* environment variables and bound command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix is the environment variable prefix, e.g. PLUMBER_FLUSH_PERIOD
const EnvPrefix = "PLUMBER"

// Config is the effective configuration
type Config struct {
	Runtime RuntimeConfig `yaml:"runtime" mapstructure:"runtime"`
	Patches PatchesConfig `yaml:"patches" mapstructure:"patches"`
	Flush   FlushConfig   `yaml:"flush" mapstructure:"flush"`
	Scrub   ScrubConfig   `yaml:"scrub" mapstructure:"scrub"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

type RuntimeConfig struct {
	APILevel int `yaml:"api_level" mapstructure:"api_level"`
}

type PatchesConfig struct {
	Disabled []string `yaml:"disabled" mapstructure:"disabled"`
}

type FlushConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	Period       time.Duration `yaml:"period" mapstructure:"period"`
	RearmDelay   time.Duration `yaml:"rearm_delay" mapstructure:"rearm_delay"`
}

type ScrubConfig struct {
	InitialDelay  time.Duration `yaml:"initial_delay" mapstructure:"initial_delay"`
	Period        time.Duration `yaml:"period" mapstructure:"period"`
	MaxIterations int           `yaml:"max_iterations" mapstructure:"max_iterations"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDefaults registers the default of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("runtime.api_level", 34)
	v.SetDefault("patches.disabled", []string{})

	v.SetDefault("flush.initial_delay", 2*time.Second)
	v.SetDefault("flush.period", 3*time.Second)
	v.SetDefault("flush.rearm_delay", time.Second)

	v.SetDefault("scrub.initial_delay", 5*time.Second)
	v.SetDefault("scrub.period", 5*time.Second)
	v.SetDefault("scrub.max_iterations", 50)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("tracing.enabled", false)
}

// New returns a viper instance with defaults and environment binding
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path when it is not empty and decodes the result
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return Decode(v)
}

// Decode builds a Config from v and validates it
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Runtime: RuntimeConfig{APILevel: v.GetInt("runtime.api_level")},
		Patches: PatchesConfig{Disabled: splitList(v.GetStringSlice("patches.disabled"))},
		Flush: FlushConfig{
			InitialDelay: v.GetDuration("flush.initial_delay"),
			Period:       v.GetDuration("flush.period"),
			RearmDelay:   v.GetDuration("flush.rearm_delay"),
		},
		Scrub: ScrubConfig{
			InitialDelay:  v.GetDuration("scrub.initial_delay"),
			Period:        v.GetDuration("scrub.period"),
			MaxIterations: v.GetInt("scrub.max_iterations"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Metrics: MetricsConfig{Listen: v.GetString("metrics.listen")},
		Tracing: TracingConfig{Enabled: v.GetBool("tracing.enabled")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList also accepts comma separated entries, as environment values are
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Default returns the configuration with every key at its default
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Decode(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate rejects schedules that cannot run and unknown log settings
func (c *Config) Validate() error {
	var errs []error
	if c.Runtime.APILevel < 1 {
		errs = append(errs, fmt.Errorf("runtime.api_level must be positive, got %d", c.Runtime.APILevel))
	}
	if c.Flush.Period <= 0 {
		errs = append(errs, fmt.Errorf("flush.period must be positive, got %v", c.Flush.Period))
	}
	if c.Flush.RearmDelay <= 0 {
		errs = append(errs, fmt.Errorf("flush.rearm_delay must be positive, got %v", c.Flush.RearmDelay))
	}
	if c.Scrub.Period <= 0 {
		errs = append(errs, fmt.Errorf("scrub.period must be positive, got %v", c.Scrub.Period))
	}
	if c.Scrub.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("scrub.max_iterations must not be negative, got %d", c.Scrub.MaxIterations))
	}
	if c.Flush.InitialDelay < 0 || c.Scrub.InitialDelay < 0 {
		errs = append(errs, errors.New("initial delays must not be negative"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the logger described by c.Log, writing to w
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(c.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
