package tts

import (
	"testing"
	"time"

	"github.com/harunnryd/lipsync/pkg/errorsx"
)

func TestWithDefaults(t *testing.T) {
	cfg := Config{APIKey: "k", BaseURL: "http://kokoro:8880/v1/"}.WithDefaults()
	if cfg.Backend != BackendKokoro || cfg.Model != "kokoro" || cfg.Voice != "af_heart" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SampleRate != 24000 || cfg.Channels != 1 || cfg.Timeout != 30*time.Second {
		t.Fatalf("unexpected audio defaults %+v", cfg)
	}
	if cfg.BaseURL != "http://kokoro:8880/v1" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid", Config{APIKey: "k"}, true},
		{"missing key", Config{}, false},
		{"mock needs no key", Config{Backend: BackendMock}, true},
		{"unknown backend", Config{Backend: "espeak", APIKey: "k"}, false},
		{"voice allowed", Config{APIKey: "k", Voice: "af_bella", AllowedVoices: []string{"af_heart", "AF_BELLA"}}, true},
		{"voice rejected", Config{APIKey: "k", Voice: "bm_lewis", AllowedVoices: []string{"af_heart"}}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.WithDefaults().Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			if errorsx.Reason(err) != errorsx.ReasonConfigInvalid {
				t.Fatalf("%s: expected config reason, got %s", tc.name, errorsx.Reason(err))
			}
		}
	}
}

func TestNativeTiming(t *testing.T) {
	if (Config{Backend: BackendKokoro}).NativeTiming() {
		t.Fatalf("expected no native timing without base url")
	}
	if !(Config{Backend: BackendKokoro, BaseURL: "http://x"}).NativeTiming() {
		t.Fatalf("expected native timing for kokoro with base url")
	}
	if (Config{Backend: BackendOpenAI, BaseURL: "http://x"}).NativeTiming() {
		t.Fatalf("expected openai to be plain only")
	}
}

func TestChunksSkipsEmpty(t *testing.T) {
	got := Chunks([][]byte{{1}, nil, {2, 3}}, 24000, 1)
	if len(got) != 2 || got[1].SampleRate != 24000 || len(got[1].Data) != 2 {
		t.Fatalf("unexpected chunks %+v", got)
	}
}
