package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lifeexplorer230/tg-news-bot-sub000/config"
	"github.com/lifeexplorer230/tg-news-bot-sub000/llm"
	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
	"github.com/lifeexplorer230/tg-news-bot-sub000/moderation"
	"github.com/lifeexplorer230/tg-news-bot-sub000/publish"
)

type fakeStore struct {
	msgs    []model.RawMessage
	marked  []model.ProcessedUpdate
	markErr error
}

func (s *fakeStore) GetUnprocessed(context.Context, int) ([]model.RawMessage, error) {
	return s.msgs, nil
}

func (s *fakeStore) MarkProcessedBatch(_ context.Context, updates []model.ProcessedUpdate) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.marked = updates
	return nil
}

type fakeDeduper struct{ dupIDs []int64 }

func (d *fakeDeduper) FilterDuplicates(_ context.Context, msgs []model.RawMessage) ([]model.RawMessage, map[int64]string, error) {
	var dup = make(map[int64]string)
	for _, id := range d.dupIDs {
		dup[id] = model.ReasonDuplicate
	}
	var unique []model.RawMessage
	for _, m := range msgs {
		if dup[m.ID] == "" {
			unique = append(unique, m)
		}
	}
	return unique, dup, nil
}

type fakeSelector struct {
	picked map[string][]llm.Item
	err    error
	gotIn  []model.RawMessage
	topics []string
}

func (s *fakeSelector) SelectByCategories(_ context.Context, msgs []model.RawMessage, _ map[string]int, opts llm.SelectOptions) (map[string][]llm.Item, error) {
	s.gotIn = msgs
	s.topics = opts.RecentTopics
	return s.picked, s.err
}

func (s *fakeSelector) RewriteDigest(context.Context, []model.Post, string, string) (string, error) {
	return "", llm.ErrRewriteUnsupported
}

type fakeModerator struct {
	res moderation.Result
	err error
}

func (m *fakeModerator) Moderate(_ context.Context, posts []model.Post, _ int) (moderation.Result, error) {
	if m.err != nil {
		return moderation.Result{}, m.err
	}
	if m.res.Approved == nil && m.res.Rejected == nil {
		return moderation.Result{Approved: posts}, nil
	}
	return m.res, nil
}

type fakeDigest struct {
	published []model.Post
	err       error
}

func (d *fakeDigest) Publish(_ context.Context, posts []model.Post, _ publish.TemplateValues) (publish.Result, error) {
	if d.err != nil {
		return publish.Result{}, d.err
	}
	d.published = posts
	return publish.Result{Sent: true, Saved: len(posts)}, nil
}

func rawMessages(n int) []model.RawMessage {
	var out = make([]model.RawMessage, n)
	for i := range out {
		out[i] = model.RawMessage{ID: int64(i + 1), ChannelID: 1, ChannelHandle: "news", ExternalID: int64(100 + i)}
	}
	return out
}

func item(id int64, category string, score int) llm.Item {
	return llm.Item{
		ID:              id,
		Title:           fmt.Sprintf("Заголовок %d", id),
		Description:     "описание",
		Score:           score,
		Category:        category,
		SourceMessageID: id,
		SourceChannelID: 1,
		Text:            fmt.Sprintf("текст %d", id),
	}
}

func processorConfig() config.ProcessorConfig {
	return config.ProcessorConfig{Categories: map[string]int{"general": 5}}
}

func newProcessor(store *fakeStore, dedup *fakeDeduper, sel *fakeSelector, mod *fakeModerator, dig *fakeDigest) *Processor {
	return NewProcessor(store, dedup, sel, mod, dig,
		processorConfig(), config.ModerationConfig{FinalTopN: 15}, publish.TemplateValues{})
}

func TestRunFullPass(t *testing.T) {
	var store = &fakeStore{msgs: rawMessages(4)}
	var dedup = &fakeDeduper{dupIDs: []int64{2}}
	var sel = &fakeSelector{picked: map[string][]llm.Item{
		"general": {item(1, "general", 9), item(3, "general", 7)},
	}}
	var dig = &fakeDigest{}
	var p = newProcessor(store, dedup, sel, &fakeModerator{}, dig)

	var report, err = p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, report.Fetched)
	require.Equal(t, 1, report.Duplicates)
	require.Equal(t, 2, report.Selected)
	require.Equal(t, 2, report.Published)
	require.Len(t, sel.gotIn, 3, "duplicates never reach the model")
	require.Len(t, dig.published, 2)

	// Every fetched message got exactly one outcome.
	require.Len(t, store.marked, 4)
	var byID = map[int64]model.ProcessedUpdate{}
	for _, u := range store.marked {
		byID[u.MessageID] = u
	}
	require.True(t, byID[2].IsDuplicate)
	require.Equal(t, model.ReasonPublished, byID[1].RejectionReason)
	require.Equal(t, 9, *byID[1].LLMScore)
	require.Equal(t, model.ReasonPublished, byID[3].RejectionReason)
	require.Equal(t, model.ReasonRejectedByLLM, byID[4].RejectionReason)
}

func TestRunModerationRejectionsRecorded(t *testing.T) {
	var store = &fakeStore{msgs: rawMessages(2)}
	var sel = &fakeSelector{picked: map[string][]llm.Item{
		"general": {item(1, "general", 9), item(2, "general", 3)},
	}}
	var mod = &fakeModerator{res: moderation.Result{
		Approved: []model.Post{{SourceMessageID: 1, Title: "Заголовок 1", Score: 9, Text: "т"}},
		Rejected: []moderation.Rejection{{Post: model.Post{SourceMessageID: 2, Score: 3}, Reason: model.ReasonRejectedByMod}},
	}}
	var p = newProcessor(store, &fakeDeduper{}, sel, mod, &fakeDigest{})

	var report, err = p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Published)

	var byID = map[int64]model.ProcessedUpdate{}
	for _, u := range store.marked {
		byID[u.MessageID] = u
	}
	require.Equal(t, model.ReasonRejectedByMod, byID[2].RejectionReason)
	require.Equal(t, 3, *byID[2].LLMScore)
}

func TestRunCancelledMarksSelectedRejected(t *testing.T) {
	var store = &fakeStore{msgs: rawMessages(3)}
	var sel = &fakeSelector{picked: map[string][]llm.Item{
		"general": {item(1, "general", 8), item(2, "general", 5)},
	}}
	var mod = &fakeModerator{err: moderation.ErrCancelled}
	var dig = &fakeDigest{}
	var p = newProcessor(store, &fakeDeduper{}, sel, mod, dig)

	var report, err = p.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Cancelled)
	require.Empty(t, dig.published)

	// The posts the moderator just turned down must not be re-proposed;
	// the message the model never picked stays unmarked for the next run.
	require.Len(t, store.marked, 2)
	var byID = map[int64]model.ProcessedUpdate{}
	for _, u := range store.marked {
		byID[u.MessageID] = u
	}
	require.Equal(t, model.ReasonRejectedByMod, byID[1].RejectionReason)
	require.Equal(t, 8, *byID[1].LLMScore)
	require.Equal(t, model.ReasonRejectedByMod, byID[2].RejectionReason)
	require.Equal(t, 5, *byID[2].LLMScore)
	require.NotContains(t, byID, int64(3))
}

func TestRunSelectionCappedToTopN(t *testing.T) {
	var store = &fakeStore{msgs: rawMessages(3)}
	var sel = &fakeSelector{picked: map[string][]llm.Item{
		"general": {item(1, "general", 4), item(2, "general", 9)},
		"tech":    {item(3, "tech", 6)},
	}}
	var dig = &fakeDigest{}
	var cfg = processorConfig()
	cfg.TopN = 2
	var p = NewProcessor(store, &fakeDeduper{}, sel, &fakeModerator{}, dig,
		cfg, config.ModerationConfig{FinalTopN: 15}, publish.TemplateValues{})

	var report, err = p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Selected)
	require.Len(t, dig.published, 2)

	// The two highest-scored posts survive the cap; the cut one is
	// recorded as not picked.
	var byID = map[int64]model.ProcessedUpdate{}
	for _, u := range store.marked {
		byID[u.MessageID] = u
	}
	require.Equal(t, model.ReasonPublished, byID[2].RejectionReason)
	require.Equal(t, model.ReasonPublished, byID[3].RejectionReason)
	require.Equal(t, model.ReasonRejectedByLLM, byID[1].RejectionReason)
}

func TestRunEmptyBacklog(t *testing.T) {
	var sel = &fakeSelector{}
	var p = newProcessor(&fakeStore{}, &fakeDeduper{}, sel, &fakeModerator{}, &fakeDigest{})

	var report, err = p.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Fetched)
	require.Nil(t, sel.gotIn)
}

func TestRunNothingSelected(t *testing.T) {
	var store = &fakeStore{msgs: rawMessages(2)}
	var sel = &fakeSelector{picked: map[string][]llm.Item{}}
	var dig = &fakeDigest{}
	var p = newProcessor(store, &fakeDeduper{}, sel, &fakeModerator{}, dig)

	var report, err = p.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Published)
	require.Empty(t, dig.published)
	require.Len(t, store.marked, 2)
	for _, u := range store.marked {
		require.Equal(t, model.ReasonRejectedByLLM, u.RejectionReason)
	}
}

func TestRunRemembersTopics(t *testing.T) {
	var store = &fakeStore{msgs: rawMessages(1)}
	var sel = &fakeSelector{picked: map[string][]llm.Item{"general": {item(1, "general", 8)}}}
	var p = newProcessor(store, &fakeDeduper{}, sel, &fakeModerator{}, &fakeDigest{})

	var _, err = p.Run(context.Background())
	require.NoError(t, err)

	// Second run feeds the published titles back into the prompt.
	store.msgs = rawMessages(1)
	_, err = p.Run(context.Background())
	require.NoError(t, err)
	require.Contains(t, sel.topics, "Заголовок 1")
}

func TestRunRecentTopicsBoundedByExcludeCount(t *testing.T) {
	var store = &fakeStore{msgs: rawMessages(1)}
	var sel = &fakeSelector{picked: map[string][]llm.Item{"general": {item(1, "general", 8)}}}
	var cfg = processorConfig()
	cfg.ExcludeCount = 1
	var p = NewProcessor(store, &fakeDeduper{}, sel, &fakeModerator{}, &fakeDigest{},
		cfg, config.ModerationConfig{FinalTopN: 15}, publish.TemplateValues{})

	var _, err = p.Run(context.Background())
	require.NoError(t, err)

	sel.picked = map[string][]llm.Item{"general": {item(2, "general", 7)}}
	store.msgs = []model.RawMessage{{ID: 2, ChannelID: 1, ChannelHandle: "news", ExternalID: 102}}
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	// Only the most recent title survives the configured bound.
	store.msgs = []model.RawMessage{{ID: 3, ChannelID: 1, ChannelHandle: "news", ExternalID: 103}}
	sel.picked = map[string][]llm.Item{}
	_, err = p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"Заголовок 2"}, sel.topics)
}

func TestRunPublishFailureAborts(t *testing.T) {
	var store = &fakeStore{msgs: rawMessages(1)}
	var sel = &fakeSelector{picked: map[string][]llm.Item{"general": {item(1, "general", 8)}}}
	var dig = &fakeDigest{err: fmt.Errorf("channel gone")}
	var p = newProcessor(store, &fakeDeduper{}, sel, &fakeModerator{}, dig)

	var _, err = p.Run(context.Background())
	require.Error(t, err)
	require.Empty(t, store.marked)
}
