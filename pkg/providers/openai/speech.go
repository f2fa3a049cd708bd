// Package openai provides plain speech synthesis through any OpenAI
// compatible /audio/speech endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/harunnryd/lipsync/pkg/adapters/tts"
	"github.com/harunnryd/lipsync/pkg/errorsx"
	"github.com/harunnryd/lipsync/pkg/resilience"
)

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Voice      string
	ChunkBytes int
	Timeout    time.Duration
}

// Speech implements tts.Synthesizer. Model and voice identifiers are passed
// through as-is; the backend decides whether they exist.
type Speech struct {
	client     oai.Client
	model      string
	voice      string
	chunkBytes int
}

func NewSpeech(cfg Config, opts ...option.RequestOption) (*Speech, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if cfg.Model == "" || cfg.Voice == "" {
		return nil, fmt.Errorf("openai: model and voice must not be empty")
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = tts.DefaultChunkBytes
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// retries are owned by the synthesis client
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.Timeout,
		}))
	}
	reqOpts = append(reqOpts, opts...)
	return &Speech{
		client:     oai.NewClient(reqOpts...),
		model:      cfg.Model,
		voice:      cfg.Voice,
		chunkBytes: cfg.ChunkBytes,
	}, nil
}

func (s *Speech) Name() string { return "openai_speech" }

// Synthesize requests raw PCM and splits it into chunkBytes sized payloads.
func (s *Speech) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	resp, err := s.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(s.model),
		Voice:          oai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
		Speed:          param.NewOpt(1.0),
	})
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, errorsx.Wrap(resilience.RateLimitError{Provider: "openai", Message: err.Error()}, errorsx.ReasonTTSRateLimit)
		}
		if errors.As(err, &apiErr) {
			return nil, errorsx.Wrap(fmt.Errorf("openai speech: %w", err), errorsx.ReasonTTSStatus)
		}
		return nil, errorsx.Wrap(fmt.Errorf("openai speech: %w", err), errorsx.ReasonTTSConnect)
	}
	defer resp.Body.Close()

	var chunks [][]byte
	for {
		buf := make([]byte, s.chunkBytes)
		n, rerr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			chunks = append(chunks, buf[:n])
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return nil, errorsx.Wrap(fmt.Errorf("openai speech: read body: %w", rerr), errorsx.ReasonTTSConnect)
		}
	}
	if len(chunks) == 0 {
		return nil, errorsx.New(errorsx.ReasonTTSEmptyAudio, "openai speech: empty audio")
	}
	return chunks, nil
}

var _ tts.Synthesizer = (*Speech)(nil)
