// Package llm is the selection stage: it sends chunks of candidate
// messages to a language-model provider, parses the structured response,
// enriches picked items with their source metadata, and enforces
// per-category quotas across chunks.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/metrics"
	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
)

// Item is one picked news item.
type Item struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Score       int    `json:"score"`
	Reason      string `json:"reason"`

	// Enriched after parsing from the input-message dictionary.
	Category        string `json:"-"`
	SourceLink      string `json:"-"`
	SourceMessageID int64  `json:"-"`
	SourceChannelID int64  `json:"-"`
	Text            string `json:"-"`
}

// SelectOptions tunes one selection pass.
type SelectOptions struct {
	ChunkSize            int
	RecentTopics         []string
	CategoryDescriptions map[string]string
}

// Client is the narrow provider interface the pipeline depends on.
type Client interface {
	// SelectByCategories returns picked items grouped by category, each
	// category holding at most its quota from categoryCounts.
	SelectByCategories(ctx context.Context, messages []model.RawMessage, categoryCounts map[string]int, opts SelectOptions) (map[string][]Item, error)
	// RewriteDigest reformats the assembled digest. Providers that do
	// not support it return ErrRewriteUnsupported.
	RewriteDigest(ctx context.Context, posts []model.Post, header, footer string) (string, error)
}

// ErrRewriteUnsupported marks a provider without digest rewriting.
var ErrRewriteUnsupported = errors.New("provider does not support digest rewriting")

// chunkCooldown is the pause between sequential chunk calls, a
// coarse-grained rate limit on top of the provider's own.
const chunkCooldown = 5 * time.Second

// completeFunc issues one provider call: (system, user) prompt in,
// raw reply text out. reqID correlates the call's log lines.
type completeFunc func(ctx context.Context, reqID, system, user string) (string, error)

// selector implements the chunking / parsing / quota logic shared by
// both providers.
type selector struct {
	name      string
	prompts   map[string]string
	complete  completeFunc
	maxTokens int
	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

func (s *selector) selectByCategories(ctx context.Context, messages []model.RawMessage, categoryCounts map[string]int, opts SelectOptions) (map[string][]Item, error) {
	if len(messages) == 0 || len(categoryCounts) == 0 {
		return map[string][]Item{}, nil
	}
	var chunkSize = opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 50
	}

	var byID = make(map[int64]model.RawMessage, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
	}

	var chunks = chunkMessages(messages, chunkSize)
	var combined = make(map[string][]Item)

	for i, chunk := range chunks {
		if i > 0 {
			s.sleep(chunkCooldown)
		}
		var reqID = newRequestID()
		var picked, err = s.selectChunk(ctx, reqID, chunk, categoryCounts, opts)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		for category, items := range picked {
			combined[category] = append(combined[category], enrich(items, category, byID)...)
		}
	}

	dedupeBySource(combined)
	return enforceQuotas(combined, categoryCounts), nil
}

// selectChunk runs one provider call and parses its reply. A reply that
// fails extraction or validation degrades to an empty result for this
// chunk; other chunks still contribute.
func (s *selector) selectChunk(ctx context.Context, reqID string, chunk []model.RawMessage, categoryCounts map[string]int, opts SelectOptions) (map[string][]Item, error) {
	var system, user = s.buildSelectPrompt(reqID, chunk, categoryCounts, opts)

	var reply, err = s.complete(ctx, reqID, system, user)
	if err != nil {
		metrics.LLMCalls.WithLabelValues("error").Inc()
		return nil, err
	}

	parsed, err := parseSelectionResponse(reply)
	if err != nil {
		metrics.LLMCalls.WithLabelValues("invalid").Inc()
		log.WithFields(log.Fields{
			"req_id":   reqID,
			"provider": s.name,
			"error":    err,
			"reply":    truncateForLog(reply, 500),
		}).Error("invalid llm response, dropping chunk")
		return map[string][]Item{}, nil
	}
	metrics.LLMCalls.WithLabelValues("ok").Inc()
	return parsed, nil
}

// enrich joins parsed items back against the input messages, attaching
// the source link, ids and original text. Items referencing unknown ids
// are dropped with a warning.
func enrich(items []Item, category string, byID map[int64]model.RawMessage) []Item {
	var out = make([]Item, 0, len(items))
	for _, it := range items {
		var m, ok = byID[it.ID]
		if !ok {
			log.WithFields(log.Fields{"id": it.ID, "category": category}).Warn("llm picked unknown message id")
			continue
		}
		it.Category = category
		it.SourceMessageID = m.ID
		it.SourceChannelID = m.ChannelID
		it.Text = m.Text
		it.SourceLink = fmt.Sprintf("https://t.me/%s/%d", m.ChannelHandle, m.ExternalID)
		out = append(out, it)
	}
	return out
}

// dedupeBySource removes repeated source_message_ids across categories,
// first occurrence wins. Categories are visited in sorted order so the
// outcome is deterministic.
func dedupeBySource(combined map[string][]Item) {
	var categories = make([]string, 0, len(combined))
	for c := range combined {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var seen = make(map[int64]bool)
	for _, c := range categories {
		var kept = combined[c][:0]
		for _, it := range combined[c] {
			if seen[it.SourceMessageID] {
				continue
			}
			seen[it.SourceMessageID] = true
			kept = append(kept, it)
		}
		combined[c] = kept
	}
}

func chunkMessages(messages []model.RawMessage, size int) [][]model.RawMessage {
	var out [][]model.RawMessage
	for start := 0; start < len(messages); start += size {
		var end = start + size
		if end > len(messages) {
			end = len(messages)
		}
		out = append(out, messages[start:end])
	}
	return out
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
