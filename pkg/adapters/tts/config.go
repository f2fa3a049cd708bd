package tts

import (
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/lipsync/pkg/configutil"
	"github.com/harunnryd/lipsync/pkg/errorsx"
)

// Backend kinds.
const (
	BackendKokoro = "kokoro"
	BackendOpenAI = "openai"
	BackendMock   = "mock"
)

const (
	DefaultBackend    = BackendKokoro
	DefaultModel      = "kokoro"
	DefaultVoice      = "af_heart"
	DefaultSampleRate = 24000
	DefaultChannels   = 1
	DefaultTimeout    = 30 * time.Second
	// DefaultChunkBytes is 200ms of 24kHz 16-bit mono PCM.
	DefaultChunkBytes = 9600
)

// nativeTiming lists backends that expose a captioned synthesis endpoint.
var nativeTiming = map[string]bool{
	BackendKokoro: true,
}

var knownBackends = map[string]bool{
	BackendKokoro: true,
	BackendOpenAI: true,
	BackendMock:   true,
}

// Config is the synthesis configuration. It is passed by value and never
// mutated after construction.
type Config struct {
	Backend       string        `mapstructure:"backend"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	Voice         string        `mapstructure:"voice"`
	Language      string        `mapstructure:"language"`
	SampleRate    int           `mapstructure:"sample_rate"`
	Channels      int           `mapstructure:"channels"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ChunkBytes    int           `mapstructure:"chunk_bytes"`
	AllowedVoices []string      `mapstructure:"allowed_voices"`
	RepairJSON    bool          `mapstructure:"repair_json"`
}

func (c Config) WithDefaults() Config {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = DefaultChannels
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = DefaultChunkBytes
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	return c
}

// Validate reports configuration errors that make synthesis impossible.
func (c Config) Validate() error {
	if !knownBackends[c.Backend] {
		return errorsx.New(errorsx.ReasonConfigInvalid, fmt.Sprintf("unknown tts backend %q", c.Backend))
	}
	if c.Backend != BackendMock {
		if err := configutil.RequireString(c.APIKey, "vendors.tts.settings.api_key"); err != nil {
			return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
		}
	}
	if err := configutil.RequireString(c.Model, "vendors.tts.settings.model"); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	if err := configutil.RequireString(c.Voice, "vendors.tts.settings.voice"); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	if len(c.AllowedVoices) > 0 && !c.voiceAllowed() {
		return errorsx.New(errorsx.ReasonConfigInvalid, fmt.Sprintf("voice %q is not in allowed_voices", c.Voice))
	}
	return nil
}

// NativeTiming reports whether the captioned path should be attempted.
func (c Config) NativeTiming() bool {
	return nativeTiming[c.Backend] && c.BaseURL != ""
}

func (c Config) voiceAllowed() bool {
	for _, v := range c.AllowedVoices {
		if strings.EqualFold(strings.TrimSpace(v), c.Voice) {
			return true
		}
	}
	return false
}
