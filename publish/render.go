// Package publish renders the approved posts into a digest message and
// delivers it: preview first, then the target channel, then storage and
// the dedup cache.
package publish

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/config"
	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
)

const (
	defaultHeaderTemplate = "📰 Дайджест новостей — {date}"
	defaultFooterTemplate = "Подписывайтесь: {channel}"
)

// TemplateValues are the placeholders available to the header and
// footer templates.
type TemplateValues struct {
	Date        string
	DisplayName string
	Marketplace string
	Channel     string
	Profile     string
}

func (v TemplateValues) mapping() map[string]string {
	return map[string]string{
		"date":         v.Date,
		"display_name": v.DisplayName,
		"marketplace":  v.Marketplace,
		"channel":      v.Channel,
		"profile":      v.Profile,
	}
}

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// renderTemplate substitutes the known placeholders. A template naming
// an unknown placeholder falls back to the built-in default instead of
// publishing a digest with a literal "{typo}" in it.
func renderTemplate(tmpl, fallback string, values TemplateValues) string {
	var mapping = values.mapping()
	if tmpl == "" {
		tmpl = fallback
	}
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		if _, ok := mapping[m[1]]; !ok {
			log.WithFields(log.Fields{"placeholder": m[1]}).Warn("unknown template placeholder, using default template")
			tmpl = fallback
			break
		}
	}
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(ph string) string {
		return mapping[strings.Trim(ph, "{}")]
	})
}

var keycaps = [...]string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

// itemNumber renders a list position as emoji digits, falling back to
// plain "n." past fifteen.
func itemNumber(n int) string {
	switch {
	case n >= 1 && n <= 10:
		return keycaps[n-1]
	case n >= 11 && n <= 15:
		return keycaps[n/10-1] + keycaps[n%10-1]
	}
	return fmt.Sprintf("%d.", n)
}

// RenderDigest assembles the full digest message.
func RenderDigest(posts []model.Post, cfg config.PublicationConfig, values TemplateValues, now time.Time) string {
	if values.Date == "" {
		values.Date = now.Format("02.01.2006")
	}

	var b strings.Builder
	b.WriteString(renderTemplate(cfg.HeaderTemplate, defaultHeaderTemplate, values))
	b.WriteString("\n\n")

	for i, post := range posts {
		fmt.Fprintf(&b, "%s **%s**\n%s\n", itemNumber(i+1), post.Title, post.Description)
		if post.SourceLink != "" {
			fmt.Fprintf(&b, "[Источник](%s)\n", post.SourceLink)
		}
		b.WriteString("\n")
	}

	b.WriteString(renderTemplate(cfg.FooterTemplate, defaultFooterTemplate, values))
	return b.String()
}
