package processors

import (
	"strings"
	"unicode/utf8"

	"github.com/harunnryd/lipsync/pkg/frames"
	"github.com/harunnryd/lipsync/pkg/pipeline"
)

// TextSplitter breaks long text frames into sentence groups of at most
// MaxChars so each piece stays under the backend input limit. Every word is
// kept; a single sentence longer than MaxChars is cut at word boundaries.
type TextSplitter struct {
	maxChars int
}

func NewTextSplitter(maxChars int) *TextSplitter {
	return &TextSplitter{maxChars: maxChars}
}

func (s *TextSplitter) Name() string { return "text_splitter" }

func (s *TextSplitter) Process(f frames.Frame) ([]frames.Frame, error) {
	tf, ok := f.(frames.TextFrame)
	if !ok || s.maxChars <= 0 || utf8.RuneCountInString(tf.Text()) <= s.maxChars {
		return []frames.Frame{f}, nil
	}
	meta := tf.Meta()
	pieces := splitText(tf.Text(), s.maxChars)
	out := make([]frames.Frame, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, frames.NewTextFrame(meta[frames.MetaStreamID], tf.PTS(), p, meta))
	}
	return out, nil
}

func splitText(text string, maxChars int) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, sentence := range sentences(text) {
		if utf8.RuneCountInString(sentence) > maxChars {
			flush()
			for _, w := range strings.Fields(sentence) {
				if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+1+utf8.RuneCountInString(w) > maxChars {
					flush()
				}
				if cur.Len() > 0 {
					cur.WriteByte(' ')
				}
				cur.WriteString(w)
			}
			flush()
			continue
		}
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+1+utf8.RuneCountInString(sentence) > maxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(sentence)
	}
	flush()
	return out
}

// sentences splits after '.', '!' or '?' followed by whitespace.
func sentences(text string) []string {
	var out []string
	fields := strings.Fields(text)
	start := 0
	for i, w := range fields {
		if strings.HasSuffix(w, ".") || strings.HasSuffix(w, "!") || strings.HasSuffix(w, "?") {
			out = append(out, strings.Join(fields[start:i+1], " "))
			start = i + 1
		}
	}
	if start < len(fields) {
		out = append(out, strings.Join(fields[start:], " "))
	}
	return out
}

var _ pipeline.FrameProcessor = (*TextSplitter)(nil)
