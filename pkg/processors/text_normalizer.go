package processors

import (
	"regexp"
	"sort"
	"strings"

	"github.com/harunnryd/lipsync/pkg/frames"
	"github.com/harunnryd/lipsync/pkg/pipeline"
)

type TextNormalizerConfig struct {
	// Replacements maps a whole word or phrase to its spoken form,
	// e.g. "HVAC" -> "H V A C". Matching ignores case.
	Replacements map[string]string
	// Source limits normalization to frames with this source; empty matches all.
	Source string
}

// TextNormalizer rewrites text before synthesis so the backend pronounces
// domain terms correctly. The timing event then carries the spoken words.
type TextNormalizer struct {
	rules  []normalizeRule
	source string
}

type normalizeRule struct {
	re *regexp.Regexp
	to string
}

func NewTextNormalizer(cfg TextNormalizerConfig) *TextNormalizer {
	keys := make([]string, 0, len(cfg.Replacements))
	for from := range cfg.Replacements {
		if strings.TrimSpace(from) != "" {
			keys = append(keys, from)
		}
	}
	// longest phrase first so "new york city" wins over "new york"
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	rules := make([]normalizeRule, 0, len(keys))
	for _, from := range keys {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(from) + `\b`)
		rules = append(rules, normalizeRule{re: re, to: cfg.Replacements[from]})
	}
	return &TextNormalizer{rules: rules, source: cfg.Source}
}

func (t *TextNormalizer) Name() string { return "text_normalizer" }

func (t *TextNormalizer) Process(f frames.Frame) ([]frames.Frame, error) {
	tf, ok := f.(frames.TextFrame)
	if !ok || len(t.rules) == 0 {
		return []frames.Frame{f}, nil
	}
	meta := tf.Meta()
	if t.source != "" && meta[frames.MetaSource] != t.source {
		return []frames.Frame{f}, nil
	}
	normalized := tf.Text()
	for _, r := range t.rules {
		normalized = r.re.ReplaceAllLiteralString(normalized, r.to)
	}
	if normalized == tf.Text() {
		return []frames.Frame{f}, nil
	}
	meta[frames.MetaNormalized] = "true"
	return []frames.Frame{frames.NewTextFrame(meta[frames.MetaStreamID], tf.PTS(), normalized, meta)}, nil
}

var _ pipeline.FrameProcessor = (*TextNormalizer)(nil)
