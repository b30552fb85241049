package llm

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitSystem(t *testing.T) {
	var system, user = splitSystem("инструкции\n" + SystemSplitMarker + "\nданные")
	require.Equal(t, "инструкции", system)
	require.Equal(t, "данные", user)
}

func TestSplitSystemNoMarker(t *testing.T) {
	var system, user = splitSystem("только данные")
	require.Equal(t, genericSystemPrompt, system)
	require.Equal(t, "только данные", user)
}

func TestRequestIDFormat(t *testing.T) {
	var pattern = regexp.MustCompile(`^[0-9a-f]{8}$`)
	var seen = map[string]bool{}
	for i := 0; i < 50; i++ {
		var id = newRequestID()
		require.Regexp(t, pattern, id)
		seen[id] = true
	}
	require.Greater(t, len(seen), 1, "ids must not collapse to a constant")
}

func TestTemplateOverride(t *testing.T) {
	var s = &selector{prompts: map[string]string{PromptSelectByCategories: "своя инструкция {messages_block}"}}
	require.Equal(t, "своя инструкция {messages_block}", s.template(PromptSelectByCategories))
	require.Equal(t, defaultRewriteTemplate, s.template(PromptRewriteDigest))
}

func TestTemplateBlankOverrideFallsBack(t *testing.T) {
	var s = &selector{prompts: map[string]string{PromptSelectByCategories: "   "}}
	require.Equal(t, defaultSelectTemplate, s.template(PromptSelectByCategories))
}
