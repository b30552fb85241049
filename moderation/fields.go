// Package moderation filters selected posts before publication, either
// automatically or through an interactive review conversation.
package moderation

import (
	"strings"

	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
	"github.com/lifeexplorer230/tg-news-bot-sub000/textutil"
)

const (
	titleWordLimit   = 7
	descriptionLimit = 200
)

// EnsurePostFields backfills an empty title or description from the
// post's original text. The title falls back to the first line, or its
// first few words when the line runs long; the description falls back
// to the rest of the text. Posts with no text at all get sentinel
// strings so the rendered digest never shows blank entries.
func EnsurePostFields(post *model.Post) {
	var text = strings.TrimSpace(post.Text)

	if strings.TrimSpace(post.Title) == "" {
		post.Title = deriveTitle(text)
	}
	if strings.TrimSpace(post.Description) == "" {
		post.Description = deriveDescription(text)
	}
}

func deriveTitle(text string) string {
	var line, _ = splitFirstLine(text)
	if line == "" {
		return model.NoTitleSentinel
	}
	var words = strings.Fields(line)
	if len(words) > titleWordLimit {
		words = words[:titleWordLimit]
	}
	return strings.Join(words, " ")
}

func deriveDescription(text string) string {
	var line, rest = splitFirstLine(text)
	if rest == "" {
		// Single-line post: the line doubles as the description.
		rest = line
	}
	if rest == "" {
		return model.NoDescriptionSentinel
	}
	return textutil.TruncateRunes(rest, descriptionLimit)
}

// splitFirstLine returns the first non-empty line and the remaining
// text, both trimmed.
func splitFirstLine(text string) (line, rest string) {
	var lines = strings.Split(text, "\n")
	for i, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			return l, strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		}
	}
	return "", ""
}
