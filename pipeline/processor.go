// Package pipeline drives one processor run: fetch unprocessed
// messages, filter duplicates, select by categories, moderate, publish
// and write back the processed state in a single batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/config"
	"github.com/lifeexplorer230/tg-news-bot-sub000/llm"
	"github.com/lifeexplorer230/tg-news-bot-sub000/metrics"
	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
	"github.com/lifeexplorer230/tg-news-bot-sub000/moderation"
	"github.com/lifeexplorer230/tg-news-bot-sub000/publish"
)

// fetchWindowHours bounds how far back a run reaches for unprocessed
// messages.
const fetchWindowHours = 24

// recentTopicsCap bounds the carried topic memory fed back into the
// selection prompt when processor.exclude_count is unset.
const recentTopicsCap = 30

// Store is the storage slice the processor reads and writes.
type Store interface {
	GetUnprocessed(ctx context.Context, withinHours int) ([]model.RawMessage, error)
	MarkProcessedBatch(ctx context.Context, updates []model.ProcessedUpdate) error
}

// Deduper filters semantic duplicates against the published window.
type Deduper interface {
	FilterDuplicates(ctx context.Context, msgs []model.RawMessage) ([]model.RawMessage, map[int64]string, error)
}

// Moderator reviews the selected posts.
type Moderator interface {
	Moderate(ctx context.Context, posts []model.Post, finalTopN int) (moderation.Result, error)
}

// Digest delivers the approved posts.
type Digest interface {
	Publish(ctx context.Context, posts []model.Post, values publish.TemplateValues) (publish.Result, error)
}

// Report summarizes one run for logs and the status reporter.
type Report struct {
	Fetched    int
	Duplicates int
	Selected   int
	Approved   int
	Published  int
	Saved      int
	Cancelled  bool
}

// Processor owns the per-run orchestration. RecentTopics persists
// across runs within one process so tomorrow's prompt can steer the
// model away from today's picks.
type Processor struct {
	store     Store
	dedup     Deduper
	selector  llm.Client
	moderator Moderator
	digest    Digest
	cfg       config.ProcessorConfig
	modCfg    config.ModerationConfig
	values    publish.TemplateValues

	recentTopics []string
}

func NewProcessor(store Store, dedup Deduper, selector llm.Client, moderator Moderator, digest Digest,
	cfg config.ProcessorConfig, modCfg config.ModerationConfig, values publish.TemplateValues) *Processor {
	return &Processor{
		store:     store,
		dedup:     dedup,
		selector:  selector,
		moderator: moderator,
		digest:    digest,
		cfg:       cfg,
		modCfg:    modCfg,
		values:    values,
	}
}

// Run executes one full pass. A cancelled digest marks the selected
// posts rejected by the moderator so they are not re-proposed, leaving
// the rest unmarked; any other failure before the final mark leaves the
// whole batch unmarked, which is safe because the dedup engine filters
// already-published items.
func (p *Processor) Run(ctx context.Context) (*Report, error) {
	var report, err = p.run(ctx)
	switch {
	case err != nil:
		metrics.ProcessorRuns.WithLabelValues("error").Inc()
	case report.Cancelled:
		metrics.ProcessorRuns.WithLabelValues("cancelled").Inc()
	default:
		metrics.ProcessorRuns.WithLabelValues("ok").Inc()
	}
	return report, err
}

func (p *Processor) run(ctx context.Context) (*Report, error) {
	var report = &Report{}

	var msgs, err = p.store.GetUnprocessed(ctx, fetchWindowHours)
	if err != nil {
		return nil, fmt.Errorf("fetch unprocessed: %w", err)
	}
	report.Fetched = len(msgs)
	if len(msgs) == 0 {
		log.Info("no unprocessed messages, skipping run")
		return report, nil
	}

	unique, dupReasons, err := p.dedup.FilterDuplicates(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("dedup: %w", err)
	}
	report.Duplicates = len(dupReasons)

	var picked map[string][]llm.Item
	if len(unique) > 0 {
		picked, err = p.selector.SelectByCategories(ctx, unique, p.cfg.Categories, llm.SelectOptions{
			RecentTopics:         p.recentTopics,
			CategoryDescriptions: p.cfg.CategoryDescriptions,
		})
		if err != nil {
			return nil, fmt.Errorf("selection: %w", err)
		}
	}
	var posts = flattenPosts(picked)
	if p.cfg.TopN > 0 {
		posts = capSelection(posts, p.cfg.TopN)
	}
	report.Selected = len(posts)

	var approved []model.Post
	var rejections []moderation.Rejection
	if len(posts) > 0 {
		var res, err = p.moderator.Moderate(ctx, posts, p.modCfg.FinalTopN)
		if errors.Is(err, moderation.ErrCancelled) {
			report.Cancelled = true
			var updates = cancelledUpdates(posts)
			if err := p.store.MarkProcessedBatch(ctx, updates); err != nil {
				return nil, fmt.Errorf("mark cancelled batch: %w", err)
			}
			log.WithField("rejected", len(updates)).Warn("digest cancelled, selected posts marked rejected")
			return report, nil
		}
		if err != nil {
			return nil, fmt.Errorf("moderation: %w", err)
		}
		approved, rejections = res.Approved, res.Rejected
	}
	report.Approved = len(approved)

	if len(approved) > 0 {
		var pubRes, err = p.digest.Publish(ctx, approved, p.values)
		if err != nil {
			return nil, fmt.Errorf("publication: %w", err)
		}
		report.Published = len(approved)
		report.Saved = pubRes.Saved
		p.rememberTopics(approved)
	}

	var updates = buildUpdates(msgs, dupReasons, posts, approved, rejections)
	if err := p.store.MarkProcessedBatch(ctx, updates); err != nil {
		return nil, fmt.Errorf("mark processed: %w", err)
	}

	log.WithFields(log.Fields{
		"fetched":    report.Fetched,
		"duplicates": report.Duplicates,
		"selected":   report.Selected,
		"approved":   report.Approved,
		"published":  report.Published,
	}).Info("processor run complete")
	return report, nil
}

// flattenPosts merges the category map into one list, categories in
// sorted order, items by descending score inside each.
func flattenPosts(picked map[string][]llm.Item) []model.Post {
	var categories = make([]string, 0, len(picked))
	for c := range picked {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var posts []model.Post
	for _, c := range categories {
		var items = append([]llm.Item(nil), picked[c]...)
		sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
		for _, it := range items {
			posts = append(posts, model.Post{
				SourceMessageID: it.SourceMessageID,
				SourceChannelID: it.SourceChannelID,
				Title:           it.Title,
				Description:     it.Description,
				Text:            it.Text,
				Reason:          it.Reason,
				Category:        it.Category,
				SourceLink:      it.SourceLink,
				Score:           it.Score,
			})
		}
	}
	return posts
}

// capSelection keeps the n highest-scored posts, preserving the
// flattened category order among the kept ones. Posts cut here fall
// through to the not-picked outcome when the batch is marked.
func capSelection(posts []model.Post, n int) []model.Post {
	if len(posts) <= n {
		return posts
	}
	var idx = make([]int, len(posts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return posts[idx[a]].Score > posts[idx[b]].Score })
	var keep = make(map[int]bool, n)
	for _, i := range idx[:n] {
		keep[i] = true
	}
	var out = make([]model.Post, 0, n)
	for i, post := range posts {
		if keep[i] {
			out = append(out, post)
		}
	}
	return out
}

// buildUpdates assigns every fetched message exactly one outcome:
// duplicate, published, a moderation rejection, or not picked by the
// model.
func buildUpdates(msgs []model.RawMessage, dupReasons map[int64]string,
	posts, approved []model.Post, rejections []moderation.Rejection) []model.ProcessedUpdate {

	var published = make(map[int64]int, len(approved))
	for _, post := range approved {
		published[post.SourceMessageID] = post.Score
	}
	var rejected = make(map[int64]string, len(rejections))
	for _, r := range rejections {
		rejected[r.Post.SourceMessageID] = r.Reason
	}
	var selectedScore = make(map[int64]int, len(posts))
	for _, post := range posts {
		selectedScore[post.SourceMessageID] = post.Score
	}

	var updates = make([]model.ProcessedUpdate, 0, len(msgs))
	for _, m := range msgs {
		var u = model.ProcessedUpdate{MessageID: m.ID}
		switch {
		case dupReasons[m.ID] != "":
			u.IsDuplicate = true
		case published[m.ID] != 0:
			var score = published[m.ID]
			u.LLMScore = &score
			u.RejectionReason = model.ReasonPublished
		case rejected[m.ID] != "":
			var score = selectedScore[m.ID]
			u.LLMScore = &score
			u.RejectionReason = rejected[m.ID]
		default:
			u.RejectionReason = model.ReasonRejectedByLLM
		}
		updates = append(updates, u)
	}
	return updates
}

// cancelledUpdates marks every selected post as rejected by the
// moderator. Messages the model never picked stay unmarked for the
// next run.
func cancelledUpdates(posts []model.Post) []model.ProcessedUpdate {
	var updates = make([]model.ProcessedUpdate, 0, len(posts))
	for _, post := range posts {
		var score = post.Score
		updates = append(updates, model.ProcessedUpdate{
			MessageID:       post.SourceMessageID,
			LLMScore:        &score,
			RejectionReason: model.ReasonRejectedByMod,
		})
	}
	return updates
}

func (p *Processor) rememberTopics(approved []model.Post) {
	var limit = recentTopicsCap
	if p.cfg.ExcludeCount > 0 {
		limit = p.cfg.ExcludeCount
	}
	for _, post := range approved {
		p.recentTopics = append(p.recentTopics, post.Title)
	}
	if len(p.recentTopics) > limit {
		p.recentTopics = p.recentTopics[len(p.recentTopics)-limit:]
	}
}
