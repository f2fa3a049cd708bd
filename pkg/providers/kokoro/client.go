package kokoro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/harunnryd/lipsync/pkg/adapters/tts"
	"github.com/harunnryd/lipsync/pkg/errorsx"
	"github.com/harunnryd/lipsync/pkg/logging"
	"github.com/harunnryd/lipsync/pkg/resilience"
)

const captionedPath = "/captioned_speech"

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Voice      string
	Language   string
	RepairJSON bool
	// Timeout bounds a request when the caller's context has no deadline.
	Timeout time.Duration
}

// Client calls the captioned speech endpoint and decodes the streamed body.
type Client struct {
	cfg     Config
	http    *http.Client
	decoder *Decoder
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(k *Client) {
		if c != nil {
			k.http = c
		}
	}
}

func WithClientLogger(logger *slog.Logger) Option {
	return func(k *Client) {
		if logger != nil {
			k.logger = logger
		}
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = tts.DefaultTimeout
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logging.NewComponentLogger(slog.Default(), "kokoro"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.decoder = NewDecoder(WithRepair(cfg.RepairJSON), WithLogger(c.logger))
	return c
}

func (c *Client) Name() string { return "kokoro_captioned" }

type captionedRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
	Stream         bool    `json:"stream"`
	LangCode       string  `json:"lang_code,omitempty"`
}

// SynthesizeCaptioned returns an error for transport failures, non-200
// statuses and bodies that decode without both audio and timing.
func (c *Client) SynthesizeCaptioned(ctx context.Context, text string) (tts.Captioned, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	body, err := json.Marshal(captionedRequest{
		Model:          c.cfg.Model,
		Input:          text,
		Voice:          c.cfg.Voice,
		Speed:          1.0,
		ResponseFormat: "pcm",
		Stream:         true,
		LangCode:       c.cfg.Language,
	})
	if err != nil {
		return tts.Captioned{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+captionedPath, bytes.NewReader(body))
	if err != nil {
		return tts.Captioned{}, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return tts.Captioned{}, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return tts.Captioned{}, errorsx.Wrap(resilience.RateLimitError{
			Provider:   "kokoro",
			Message:    resp.Status,
			RetryAfter: resilience.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}, errorsx.ReasonTTSRateLimit)
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return tts.Captioned{}, errorsx.Wrap(fmt.Errorf("captioned speech: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)), errorsx.ReasonTTSStatus)
	}

	res, err := c.decoder.DecodeReader(resp.Body)
	if err != nil {
		return tts.Captioned{}, errorsx.Wrap(fmt.Errorf("captioned speech: read body: %w", err), errorsx.ReasonCaptionedDecode)
	}
	if !res.Usable() {
		return res, errorsx.New(errorsx.ReasonCaptionedEmpty,
			fmt.Sprintf("captioned speech: unusable response (%d audio chunks, %d timings)", len(res.Audio), len(res.Timings)))
	}
	c.logger.Debug("captioned speech decoded",
		slog.Int("audio_chunks", len(res.Audio)),
		slog.Int("timings", len(res.Timings)))
	return res, nil
}

var _ tts.CaptionedSynthesizer = (*Client)(nil)
