// Package config loads mtserve settings from defaults, an optional YAML
// file and MTSERVE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/valpere/mtserve/internal/detector"
	"github.com/valpere/mtserve/internal/hub"
	"github.com/valpere/mtserve/internal/registry"
	"github.com/valpere/mtserve/internal/runtime"
	"github.com/valpere/mtserve/internal/server"
)

const EnvPrefix = "MTSERVE"

type Config struct {
	Server   server.Config  `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Hub      hub.Config     `mapstructure:"hub"`
	Runtime  runtime.Config `mapstructure:"runtime"`
	Models   ModelsConfig   `mapstructure:"models"`
	Detector DetectorConfig `mapstructure:"detector"`
	Database DatabaseConfig `mapstructure:"database"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ModelsConfig struct {
	// Cache keeps loaded models resident across requests.
	Cache bool `mapstructure:"cache"`
	// Registry maps "src-tgt" to a model identifier. Empty means the built-in pairs.
	Registry map[string]string `mapstructure:"registry"`
}

type DetectorConfig struct {
	Languages     []string `mapstructure:"languages"`
	MinConfidence float64  `mapstructure:"min_confidence"`
	// CheckOutput runs detection on every translation and warns when it is
	// not in the target language.
	CheckOutput bool `mapstructure:"check_output"`
}

func (d DetectorConfig) Options() detector.Options {
	return detector.Options{Languages: d.Languages, MinConfidence: d.MinConfidence}
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.idle_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("hub.base_url", hub.DefaultBaseURL)
	v.SetDefault("hub.revision", hub.DefaultRevision)
	v.SetDefault("hub.token", "")
	v.SetDefault("hub.cache_dir", filepath.Join(home, ".cache", "mtserve", "models"))
	v.SetDefault("hub.offline", false)
	v.SetDefault("hub.timeout", 60*time.Second)

	v.SetDefault("runtime.url", "http://localhost:8500")
	v.SetDefault("runtime.timeout", 2*time.Minute)
	v.SetDefault("runtime.device", runtime.DeviceAuto)
	// Zero defers to max_length and num_beams from the model's config.json.
	v.SetDefault("runtime.max_new_tokens", 0)
	v.SetDefault("runtime.num_beams", 0)
	v.SetDefault("runtime.breaker_failures", 5)
	v.SetDefault("runtime.breaker_timeout", 30*time.Second)

	v.SetDefault("models.cache", false)
	v.SetDefault("models.registry", map[string]string{})

	v.SetDefault("detector.languages", []string{})
	v.SetDefault("detector.min_confidence", 0.0)
	v.SetDefault("detector.check_output", false)

	v.SetDefault("database.path", "./data/mtserve.db")
}

// New returns a viper instance with defaults, env binding and the config
// file search path set up. configFile overrides the search.
func New(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// HF_TOKEN is what the hub tooling itself reads.
	_ = v.BindEnv("hub.token", EnvPrefix+"_HUB_TOKEN", "HF_TOKEN")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("mtserve")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/mtserve")
	}
	return v
}

// Load reads the config file, if any, and decodes v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the components would otherwise misbehave on.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be json or console, got %q", c.Log.Format))
	}

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr: must not be empty"))
	}
	if c.Server.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("server.max_body_bytes: must not be negative"))
	}

	switch c.Runtime.Device {
	case runtime.DeviceAuto, runtime.DeviceCPU, runtime.DeviceCUDA, runtime.DeviceMPS:
	default:
		errs = append(errs, fmt.Errorf("runtime.device: unknown device %q", c.Runtime.Device))
	}
	if c.Runtime.MaxNewTokens < 0 || c.Runtime.NumBeams < 0 {
		errs = append(errs, errors.New("runtime: max_new_tokens and num_beams must not be negative"))
	}

	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("detector.min_confidence: must be within [0, 1], got %v", c.Detector.MinConfidence))
	}
	for _, code := range c.Detector.Languages {
		if _, err := language.ParseBase(code); err != nil {
			errs = append(errs, fmt.Errorf("detector.languages: invalid code %q", code))
		}
	}

	if _, err := c.Registry(); err != nil {
		errs = append(errs, fmt.Errorf("models.registry: %w", err))
	}

	return errors.Join(errs...)
}

// Registry builds the model registry, falling back to the built-in pairs.
func (c *Config) Registry() (*registry.Registry, error) {
	if len(c.Models.Registry) == 0 {
		return registry.Default(), nil
	}
	return registry.New(c.Models.Registry)
}
