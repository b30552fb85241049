package llm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
	"github.com/lifeexplorer230/tg-news-bot-sub000/textutil"
)

// Prompt template keys looked up in the provider's prompts map.
const (
	PromptSelectByCategories = "select_by_categories"
	PromptRewriteDigest      = "rewrite_digest"
)

// SystemSplitMarker separates the system prefix from the user suffix in
// a prompt template. Templates without the marker run with a short
// generic system prompt.
const SystemSplitMarker = "===USER==="

const genericSystemPrompt = "Ты — внимательный редактор новостного дайджеста. Отвечай строго в запрошенном формате JSON, без пояснений."

// messageCharLimit bounds one message's contribution to the prompt.
const messageCharLimit = 1500

const defaultSelectTemplate = `Ты — редактор ежедневного новостного дайджеста. Твоя задача — отобрать самые важные и интересные новости по категориям.

Категории и лимиты:
{categories_description}
` + SystemSplitMarker + `
{recently_published_section}Сообщения для отбора (каждое начинается с "ID: <число>"):

{messages_block}

Для каждой категории выбери не больше лимита. Оцени каждую новость по шкале 1-10. Не выбирай новости, совпадающие по смыслу с уже опубликованными.

Верни строго JSON без пояснений, в формате:
{json_structure}`

const defaultJSONStructure = `{"имя_категории": [{"id": 123, "title": "Заголовок", "description": "Краткое описание", "score": 8, "reason": "Почему выбрана"}]}`

const defaultRewriteTemplate = `Перепиши дайджест, сохранив структуру, ссылки и порядок пунктов, но сделав формулировки живее и короче.
` + SystemSplitMarker + `
{digest}`

// newRequestID returns an 8-hex correlation id for one provider call.
func newRequestID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf[:])
}

// template returns the configured prompt for key, or its built-in
// default.
func (s *selector) template(key string) string {
	if t, ok := s.prompts[key]; ok && strings.TrimSpace(t) != "" {
		return t
	}
	switch key {
	case PromptRewriteDigest:
		return defaultRewriteTemplate
	default:
		return defaultSelectTemplate
	}
}

// splitSystem divides a rendered template at the SystemSplitMarker.
func splitSystem(prompt string) (system, user string) {
	if idx := strings.Index(prompt, SystemSplitMarker); idx >= 0 {
		return strings.TrimSpace(prompt[:idx]), strings.TrimSpace(prompt[idx+len(SystemSplitMarker):])
	}
	return genericSystemPrompt, strings.TrimSpace(prompt)
}

// buildSelectPrompt renders the selection template for one chunk.
func (s *selector) buildSelectPrompt(reqID string, chunk []model.RawMessage, categoryCounts map[string]int, opts SelectOptions) (string, string) {
	var categories = make([]string, 0, len(categoryCounts))
	for name := range categoryCounts {
		categories = append(categories, name)
	}
	sort.Strings(categories)

	var catDesc strings.Builder
	for _, name := range categories {
		fmt.Fprintf(&catDesc, "- %s (до %d новостей)", name, categoryCounts[name])
		if d := opts.CategoryDescriptions[name]; d != "" {
			fmt.Fprintf(&catDesc, ": %s", d)
		}
		catDesc.WriteByte('\n')
	}

	var recentSection string
	if len(opts.RecentTopics) > 0 {
		recentSection = "Уже опубликованные недавно темы (не повторяй их):\n- " +
			strings.Join(opts.RecentTopics, "\n- ") + "\n\n"
	}

	var messagesBlock strings.Builder
	for _, m := range chunk {
		var text = textutil.TruncateRunes(textutil.Sanitize(m.Text), messageCharLimit)
		fmt.Fprintf(&messagesBlock, "ID: %d | Канал: @%s\n%s\n\n", m.ID, m.ChannelHandle, textutil.EscapeBraces(text))
	}

	var rendered = strings.NewReplacer(
		"{categories_description}", catDesc.String(),
		"{messages_block}", messagesBlock.String(),
		"{json_structure}", defaultJSONStructure,
		"{recently_published_section}", recentSection,
	).Replace(s.template(PromptSelectByCategories))

	var system, user = splitSystem(rendered)
	s.logTokenEstimate(reqID, len(system)+len(user))
	return system, user
}

// buildRewritePrompt renders the digest-rewrite template.
func (s *selector) buildRewritePrompt(reqID, digest string) (string, string) {
	var rendered = strings.ReplaceAll(s.template(PromptRewriteDigest), "{digest}", digest)
	var system, user = splitSystem(rendered)
	s.logTokenEstimate(reqID, len(system)+len(user))
	return system, user
}

// logTokenEstimate logs the chars/4 token estimate, flagging prompts
// approaching or exceeding the provider's max_tokens budget.
func (s *selector) logTokenEstimate(reqID string, chars int) {
	var estimate = chars / 4
	var fields = log.Fields{"req_id": reqID, "provider": s.name, "est_tokens": estimate, "max_tokens": s.maxTokens}
	switch {
	case s.maxTokens > 0 && estimate > s.maxTokens:
		log.WithFields(fields).Warn("prompt exceeds token budget; caller should have chunked")
	case s.maxTokens > 0 && estimate*10 >= s.maxTokens*8:
		log.WithFields(fields).Info("prompt near token budget")
	default:
		log.WithFields(fields).Debug("prompt built")
	}
}
