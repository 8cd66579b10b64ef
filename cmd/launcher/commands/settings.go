package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rhusiev/everyonetagger/pkg/engine"
	"github.com/rhusiev/everyonetagger/pkg/telemetry"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix         = "LAUNCHER"
	defaultConfigName = "launcher"
	defaultStateDir   = ".launcher-state"
	defaultDescriptor = "unit.cue"
)

// Settings are the launcher's own settings, as opposed to the unit
// descriptor. Sources in increasing precedence: defaults, the config file,
// LAUNCHER_* environment variables, flags.
type Settings struct {
	StateDir   string          `mapstructure:"state_dir"`
	Descriptor string          `mapstructure:"descriptor"`
	Policies   []string        `mapstructure:"policies"`
	Log        LogSettings     `mapstructure:"log"`
	Tracing    TracingSettings `mapstructure:"tracing"`
	Metrics    MetricsSettings `mapstructure:"metrics"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter"`
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type MetricsSettings struct {
	// Listen is the address of the /metrics endpoint; empty disables it.
	Listen string `mapstructure:"listen"`

	// Textfile is written on exit for a node exporter textfile collector.
	Textfile string `mapstructure:"textfile"`
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("state_dir", defaultStateDir)
	v.SetDefault("descriptor", defaultDescriptor)
	v.SetDefault("policies", []string{})
	v.SetDefault("log.level", envOr("LOG_LEVEL", "info"))
	v.SetDefault("log.format", "console")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.textfile", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// loadSettings reads the config file (explicit, or launcher.yaml in the
// working directory when present), binds the persistent flags and decodes
// the result.
func loadSettings(v *viper.Viper, configFile string, flags *pflag.FlagSet) (*Settings, error) {
	bindings := map[string]string{
		"state_dir":  "state-dir",
		"descriptor": "file",
		"policies":   "policy",
		"log.level":  "log-level",
		"log.format": "log-format",
	}
	for key, flag := range bindings {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, engine.NewConfigError("failed to read launcher config", err).WithCode(engine.ErrCodeValidation)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, engine.NewConfigError("failed to parse launcher config", err).WithCode(engine.ErrCodeValidation)
	}
	return &s, nil
}

// telemetryConfig maps the settings onto a telemetry configuration.
func (s *Settings) telemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = s.Log.Level
	cfg.Logging.Format = s.Log.Format
	cfg.Tracing.Enabled = s.Tracing.Enabled
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.Insecure = s.Tracing.Insecure
	cfg.Metrics.ListenAddress = s.Metrics.Listen
	cfg.Metrics.TextfilePath = s.Metrics.Textfile
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
