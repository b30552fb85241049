package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeWhitespace(t *testing.T) {
	var n = NewNormalizer(NormalizeOptions{})
	require.Equal(t, "a b c", n.Normalize("  a\n\n b\t\tc  "))
}

func TestNormalizeURLs(t *testing.T) {
	var n = NewNormalizer(NormalizeOptions{ReplaceURLs: true})
	require.Equal(t, "читайте [URL] и [URL]",
		n.Normalize("читайте https://example.com/a?b=c и t.me/somechannel/42"))
}

func TestNormalizeEmoji(t *testing.T) {
	var n = NewNormalizer(NormalizeOptions{StripEmoji: true})
	require.Equal(t, "срочно: новость", n.Normalize("🔥🔥 срочно: новость ⚡️"))
}

func TestNormalizeSourceAttribution(t *testing.T) {
	var n = NewNormalizer(NormalizeOptions{SourceKeywords: []string{"РИА Новости", "ТАСС"}})

	var cases = map[string]string{
		"РИА Новости сообщает: курс вырос":   "курс вырос",
		"По данным ТАСС, запуск отложен":     "запуск отложен",
		"Источник: РИА Новости. Всё хорошо":  "Всё хорошо",
		"ТАСС заявил: переговоры завершены":  "переговоры завершены",
		"Согласно ТАСС, рейс задержан":       "рейс задержан",
		"Упомянули ТАСС в середине — остаётся": "Упомянули ТАСС в середине — остаётся",
	}
	for in, want := range cases {
		require.Equal(t, want, n.Normalize(in), "input %q", in)
	}
}

func TestNormalizeAttributionMakesRepostsEqual(t *testing.T) {
	var n = NewNormalizer(NormalizeOptions{SourceKeywords: []string{"ТАСС"}})
	require.Equal(t, n.Normalize("цены на нефть выросли"),
		n.Normalize("ТАСС сообщает: цены на нефть выросли"))
}
