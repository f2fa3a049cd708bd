package lipsync

import (
	"fmt"
	"strings"

	"github.com/harunnryd/lipsync/pkg/adapters/tts"
	"github.com/harunnryd/lipsync/pkg/configutil"
	"github.com/harunnryd/lipsync/pkg/errorsx"
	"github.com/harunnryd/lipsync/pkg/providers/kokoro"
	"github.com/harunnryd/lipsync/pkg/providers/mock"
	"github.com/harunnryd/lipsync/pkg/providers/openai"
	"github.com/harunnryd/lipsync/pkg/transports"
	wstransport "github.com/harunnryd/lipsync/pkg/transports/websocket"
)

// Backends is the pair of synthesizers a TTS provider contributes. Native
// may be nil when the backend has no timed endpoint.
type Backends struct {
	Plain  tts.Synthesizer
	Native tts.CaptionedSynthesizer
}

type TTSBuilder func(cfg tts.Config) (Backends, error)
type TransportBuilder func(settings map[string]any) (transports.Transport, error)

type ProviderRegistry struct {
	tts        map[string]TTSBuilder
	transports map[string]TransportBuilder
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		tts:        make(map[string]TTSBuilder),
		transports: make(map[string]TransportBuilder),
	}
}

// DefaultProviderRegistry has the built-in kokoro, openai and mock TTS
// backends plus the websocket transport.
func DefaultProviderRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterTTS(tts.BackendKokoro, buildKokoro)
	r.RegisterTTS(tts.BackendOpenAI, buildOpenAI)
	r.RegisterTTS(tts.BackendMock, buildMock)
	r.RegisterTransport("websocket", buildWebsocket)
	return r
}

func (r *ProviderRegistry) RegisterTTS(name string, builder TTSBuilder) {
	r.tts[normalizeName(name)] = builder
}

func (r *ProviderRegistry) RegisterTransport(name string, builder TransportBuilder) {
	r.transports[normalizeName(name)] = builder
}

// TTSConfig decodes the vendor settings and fills defaults. The provider
// name wins over any backend key in the settings.
func TTSConfig(vendor VendorConfig) (tts.Config, error) {
	var cfg tts.Config
	if err := configutil.ValidateSettings(vendor.Settings, ttsSchema); err != nil {
		return tts.Config{}, errorsx.Wrap(fmt.Errorf("vendors.tts.settings: %w", err), errorsx.ReasonConfigInvalid)
	}
	if err := configutil.DecodeSettings(vendor.Settings, &cfg); err != nil {
		return tts.Config{}, errorsx.Wrap(fmt.Errorf("vendors.tts.settings: %w", err), errorsx.ReasonConfigInvalid)
	}
	cfg.Backend = vendor.Provider
	return cfg.WithDefaults(), nil
}

func (r *ProviderRegistry) BuildTTS(cfg tts.Config) (Backends, error) {
	fn := r.tts[normalizeName(cfg.Backend)]
	if fn == nil {
		return Backends{}, errorsx.New(errorsx.ReasonConfigInvalid, fmt.Sprintf("tts provider not registered: %s", cfg.Backend))
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTransport(cfg TransportsConfig) (transports.Transport, error) {
	fn := r.transports[normalizeName(cfg.Provider)]
	if fn == nil {
		return nil, errorsx.New(errorsx.ReasonConfigInvalid, fmt.Sprintf("transport provider not registered: %s", cfg.Provider))
	}
	return fn(cfg.Settings)
}

var ttsSchema = configutil.Schema{
	Optional: []string{
		"backend", "base_url", "api_key", "model", "voice", "language",
		"sample_rate", "channels", "timeout", "chunk_bytes", "allowed_voices", "repair_json",
	},
}

// buildKokoro pairs the captioned endpoint with the OpenAI compatible
// speech route of the same server for the plain path.
func buildKokoro(cfg tts.Config) (Backends, error) {
	plain, err := openai.NewSpeech(openai.Config{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Voice:      cfg.Voice,
		ChunkBytes: cfg.ChunkBytes,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		return Backends{}, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	native := kokoro.NewClient(kokoro.Config{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Voice:      cfg.Voice,
		Language:   cfg.Language,
		RepairJSON: cfg.RepairJSON,
		Timeout:    cfg.Timeout,
	})
	return Backends{Plain: plain, Native: native}, nil
}

func buildOpenAI(cfg tts.Config) (Backends, error) {
	plain, err := openai.NewSpeech(openai.Config{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Voice:      cfg.Voice,
		ChunkBytes: cfg.ChunkBytes,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		return Backends{}, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	return Backends{Plain: plain}, nil
}

func buildMock(cfg tts.Config) (Backends, error) {
	return Backends{Plain: mock.NewSynthesizer(mock.TTSConfig{ChunkBytes: cfg.ChunkBytes})}, nil
}

func buildWebsocket(settings map[string]any) (transports.Transport, error) {
	var cfg wstransport.Config
	if err := configutil.DecodeSettings(settings, &cfg); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("transports.settings: %w", err), errorsx.ReasonConfigInvalid)
	}
	return wstransport.New(cfg), nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
