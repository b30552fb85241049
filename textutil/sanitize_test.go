package textutil

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"
)

func TestSanitizeIdempotent(t *testing.T) {
	var cases = []string{
		"",
		"plain text",
		"line\nbreaks\tand tabs",
		"zero\u200bwidth\u200cjoin\u200ders",
		"bidi \u202eevil\u202c text",
		"null\x00byte and bell\x07",
		"  padded  ",
		"смешанный текст с кириллицей\u2060!",
	}
	for _, c := range cases {
		var once = Sanitize(c)
		require.Equal(t, once, Sanitize(once), "input %q", c)
	}
}

func TestSanitizeStripsHostileRunes(t *testing.T) {
	var out = Sanitize("a\u200b\u202e\x00\x1bb\u2066c")
	require.Equal(t, "abc", out)

	for _, r := range Sanitize("x\x00y\u200d\u202az\n\tok") {
		if r == '\n' || r == '\t' {
			continue
		}
		require.False(t, unicode.IsControl(r), "control rune %U survived", r)
		_, banned := bannedRunes[r]
		require.False(t, banned, "banned rune %U survived", r)
	}
}

func TestSanitizeKeepsNewlinesAndTabs(t *testing.T) {
	require.Equal(t, "a\nb\tc", Sanitize("a\nb\tc"))
}

func TestMaskPhone(t *testing.T) {
	require.Equal(t, "+791****6789", MaskPhone("+79161236789"))
	require.Equal(t, "1234****5678", MaskPhone("12345678"))
	require.Equal(t, "***", MaskPhone("1234567"))
	require.Equal(t, "***", MaskPhone(""))

	var masked = MaskPhone("+491701234567")
	require.Equal(t, "+491", masked[:4])
	require.Equal(t, "4567", masked[len(masked)-4:])
	require.Equal(t, 4, strings.Count(masked, "*"))
}

func TestTruncateRunes(t *testing.T) {
	require.Equal(t, "short", TruncateRunes("short", 10))
	require.Equal(t, "аб…", TruncateRunes("абвгд", 3))
	require.Equal(t, "абвгд", TruncateRunes("абвгд", 5))
	require.Len(t, []rune(TruncateRunes(strings.Repeat("x", 300), 200)), 200)
}

func TestEscapeBraces(t *testing.T) {
	require.Equal(t, "{{json}} and {{{{double}}}}", EscapeBraces("{json} and {{double}}"))
}
