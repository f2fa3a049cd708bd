// Package kokoro talks to a Kokoro-FastAPI style server and decodes its
// captioned speech stream.
//
// The captioned stream is newline delimited. Each line is expected to be a
// JSON object that may carry a base64 "audio" field, a "word_timings" array,
// or both. Decoding is best effort: anything that cannot be understood is
// skipped rather than failing the whole response.
package kokoro

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/kaptinlin/jsonrepair"

	"github.com/harunnryd/lipsync/pkg/adapters/tts"
	"github.com/harunnryd/lipsync/pkg/timing"
)

type DecoderOption func(*Decoder)

// WithRepair runs lines that fail with a JSON syntax error through
// jsonrepair before giving up on them.
func WithRepair(enabled bool) DecoderOption {
	return func(d *Decoder) { d.repair = enabled }
}

func WithLogger(logger *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

type Decoder struct {
	repair bool
	logger *slog.Logger
}

func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode is DecodeReader over an in-memory body.
func (d *Decoder) Decode(raw []byte) tts.Captioned {
	res, _ := d.DecodeReader(bytes.NewReader(raw))
	return res
}

// DecodeReader consumes r line by line. The returned error is only ever a
// read error from r; what was decoded before it is still returned.
func (d *Decoder) DecodeReader(r io.Reader) (tts.Captioned, error) {
	var res tts.Captioned
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			d.decodeLine(lineNo, line, &res)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			return res, err
		}
	}
}

// record keeps both fields raw so a malformed one cannot take its sibling
// down with it.
type record struct {
	Audio       json.RawMessage `json:"audio"`
	WordTimings json.RawMessage `json:"word_timings"`
}

type wordTiming struct {
	Word  *string  `json:"word"`
	Start *float64 `json:"start"`
	End   *float64 `json:"end"`
}

func (d *Decoder) decodeLine(lineNo int, line []byte, res *tts.Captioned) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var rec record
	if err := d.unmarshal(line, &rec); err != nil {
		d.logger.Debug("skipping undecodable line",
			slog.Int("line", lineNo),
			slog.String("error", err.Error()))
		return
	}

	if pcm, ok := d.audioField(lineNo, rec.Audio); ok {
		res.Audio = append(res.Audio, pcm)
	}
	res.Timings = append(res.Timings, d.timingField(lineNo, rec.WordTimings)...)
}

func (d *Decoder) audioField(lineNo int, raw json.RawMessage) ([]byte, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		d.logger.Debug("skipping non-string audio field",
			slog.Int("line", lineNo),
			slog.String("error", err.Error()))
		return nil, false
	}
	if encoded == "" {
		return nil, false
	}
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		d.logger.Debug("skipping invalid audio field",
			slog.Int("line", lineNo),
			slog.String("error", err.Error()))
		return nil, false
	}
	return pcm, len(pcm) > 0
}

func (d *Decoder) timingField(lineNo int, raw json.RawMessage) []timing.Entry {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		d.logger.Debug("skipping non-array word_timings field",
			slog.Int("line", lineNo),
			slog.String("error", err.Error()))
		return nil
	}
	var out []timing.Entry
	for _, item := range items {
		var wt wordTiming
		if err := json.Unmarshal(item, &wt); err != nil {
			continue
		}
		if wt.Word == nil || wt.Start == nil || wt.End == nil {
			continue
		}
		end := *wt.End
		if end < *wt.Start {
			end = *wt.Start
		}
		out = append(out, timing.Entry{Word: *wt.Word, Start: *wt.Start, End: end})
	}
	return out
}

func (d *Decoder) unmarshal(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil || !d.repair {
		return err
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}
