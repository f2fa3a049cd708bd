package lipsync

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/lipsync/pkg/pipeline"
)

type Config struct {
	Pipeline   pipeline.Config  `mapstructure:"-"`
	Normalizer NormalizerConfig `mapstructure:"-"`
	// MaxChars splits longer text into sentence groups; 0 disables it.
	MaxChars      int                 `mapstructure:"-"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Synthesis     SynthesisConfig     `mapstructure:"synthesis"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	TTS VendorConfig `mapstructure:"tts"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type NormalizerConfig struct {
	Replacements map[string]string `mapstructure:"replacements"`
}

// SynthesisConfig tunes the resilience wrapped around the backend.
type SynthesisConfig struct {
	Retries          int           `mapstructure:"retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	// EventLog, when set, appends every observer event to this JSONL file.
	EventLog   string  `mapstructure:"event_log"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

type ObservabilityConfig struct {
	Metrics           MetricsConfig `mapstructure:"metrics"`
	TimelineDir       string        `mapstructure:"timeline_dir"`
	TimelineRetention time.Duration `mapstructure:"timeline_retention"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return decode(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.buffer", 64)
	v.SetDefault("pipeline.backpressure", "wait")
	v.SetDefault("pipeline.max_chars", 0)
	v.SetDefault("vendors.tts.provider", "kokoro")
	v.SetDefault("transports.provider", "websocket")
	v.SetDefault("synthesis.retries", 1)
	v.SetDefault("synthesis.retry_backoff", "200ms")
	v.SetDefault("synthesis.breaker_threshold", 3)
	v.SetDefault("synthesis.breaker_cooldown", "30s")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")
	v.SetDefault("observability.metrics.sample_rate", 1.0)
	v.SetDefault("observability.timeline_dir", "")
	v.SetDefault("observability.timeline_retention", "0s")
	v.SetDefault("privacy.redact_pii", true)
}

func decode(v *viper.Viper) (Config, error) {
	var raw struct {
		Pipeline struct {
			Buffer       int              `mapstructure:"buffer"`
			Backpressure string           `mapstructure:"backpressure"`
			MaxChars     int              `mapstructure:"max_chars"`
			Normalizer   NormalizerConfig `mapstructure:"normalizer"`
		} `mapstructure:"pipeline"`
		Config `mapstructure:",squash"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := raw.Config
	cfg.Pipeline = pipeline.Config{
		Buffer:       raw.Pipeline.Buffer,
		Backpressure: pipeline.ParseBackpressure(strings.ToLower(strings.TrimSpace(raw.Pipeline.Backpressure))),
	}
	cfg.Normalizer = raw.Pipeline.Normalizer
	cfg.MaxChars = raw.Pipeline.MaxChars

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if c.Pipeline.Buffer < 0 {
		return fmt.Errorf("pipeline.buffer must not be negative")
	}
	if c.MaxChars < 0 {
		return fmt.Errorf("pipeline.max_chars must not be negative")
	}
	if r := c.Observability.Metrics.SampleRate; r < 0 || r > 1 {
		return fmt.Errorf("observability.metrics.sample_rate must be within [0, 1]")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				v.SetMapIndex(key, reflect.ValueOf(os.ExpandEnv(val.String())))
			}
		}
	}
}
