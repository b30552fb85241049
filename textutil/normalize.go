package textutil

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	urlPattern    = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"]+|\bwww\.[^\s<>"]+|\bt\.me/[^\s<>"]+`)
	// Emoji and pictographs, plus the variation selectors and skin-tone
	// modifiers that ride along with them.
	emojiPattern = regexp.MustCompile(`[\x{1F000}-\x{1FAFF}\x{2600}-\x{27BF}\x{2190}-\x{21FF}\x{2B00}-\x{2BFF}\x{FE00}-\x{FE0F}\x{1F3FB}-\x{1F3FF}\x{E0020}-\x{E007F}]`)
)

// NormalizeOptions selects which transforms NewNormalizer applies beyond
// whitespace collapsing, which is unconditional.
type NormalizeOptions struct {
	ReplaceURLs bool
	StripEmoji  bool
	// SourceKeywords lists channel/source names whose attribution phrasing
	// ("X сообщает: ...", "По данным X, ...") is removed before encoding,
	// so that a reposted item and its original embed identically.
	SourceKeywords []string
}

// Normalizer applies the text normalization pipeline ahead of embedding.
type Normalizer struct {
	opts    NormalizeOptions
	sources []*regexp.Regexp
}

// Attribution templates. %s is the quoted source keyword. Anchored to the
// start of the text or of a line so that a legitimate mid-sentence mention
// of the source survives.
var attributionTemplates = []string{
	`(?i)(^|\n)\s*%s\s+сообщает\s*:?\s*`,
	`(?i)(^|\n)\s*%s\s+заявил[аио]?\s*:?\s*`,
	`(?i)(^|\n)\s*%s\s+пишет\s*:?\s*`,
	`(?i)(^|\n)\s*по\s+данным\s+%s\s*[,:]?\s*`,
	`(?i)(^|\n)\s*согласно\s+%s\s*[,:]?\s*`,
	`(?i)(^|\n)\s*источник\s*:\s*%s\s*\.?\s*`,
}

// NewNormalizer compiles the attribution patterns for the configured
// source keywords. Keywords are matched case-insensitively.
func NewNormalizer(opts NormalizeOptions) *Normalizer {
	var n = &Normalizer{opts: opts}
	for _, kw := range opts.SourceKeywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		var quoted = regexp.QuoteMeta(kw)
		for _, tpl := range attributionTemplates {
			n.sources = append(n.sources, regexp.MustCompile(fmt.Sprintf(tpl, quoted)))
		}
	}
	return n
}

// Normalize runs the configured pipeline: attribution removal, optional
// URL replacement, optional emoji stripping, and finally whitespace
// collapsing with trim.
func (n *Normalizer) Normalize(s string) string {
	for _, re := range n.sources {
		s = re.ReplaceAllString(s, "$1")
	}
	if n.opts.ReplaceURLs {
		s = urlPattern.ReplaceAllString(s, "[URL]")
	}
	if n.opts.StripEmoji {
		s = emojiPattern.ReplaceAllString(s, "")
	}
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
