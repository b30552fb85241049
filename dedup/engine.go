// Package dedup rejects semantically near-duplicate candidates against
// the rolling window of recently published items. The engine owns an
// in-memory (ids, matrix) cache and grows it incrementally as digests
// publish, so later runs see earlier ones without re-reading storage.
package dedup

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/config"
	"github.com/lifeexplorer230/tg-news-bot-sub000/embedding"
	"github.com/lifeexplorer230/tg-news-bot-sub000/metrics"
	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
	"github.com/lifeexplorer230/tg-news-bot-sub000/storage"
)

// PublishedSource is the slice of the storage contract the engine reads.
type PublishedSource interface {
	GetPublishedEmbeddings(ctx context.Context, withinDays int) ([]storage.PublishedEmbedding, error)
}

// Engine holds the dedup state for the processor. Not safe for
// concurrent use; the scheduler runs jobs sequentially. The published
// window loads once and is then maintained incrementally through
// AddPublished.
type Engine struct {
	source     PublishedSource
	emb        *embedding.Service
	threshold  float64
	windowDays int
	useDBSCAN  bool
	eps        float64
	minSamples int

	loaded bool
	ids    []int64
	matrix [][]float32
}

// New builds an engine from the processor configuration. The published
// window is loaded lazily on first use.
func New(source PublishedSource, emb *embedding.Service, cfg config.ProcessorConfig) *Engine {
	var eps = cfg.DBSCANEps
	if eps == 0 {
		eps = 1 - cfg.DuplicateThreshold
	}
	var minSamples = cfg.DBSCANMinSamples
	if minSamples < 2 {
		minSamples = 2
	}
	return &Engine{
		source:     source,
		emb:        emb,
		threshold:  cfg.DuplicateThreshold,
		windowDays: cfg.DuplicateTimeWindowDays,
		useDBSCAN:  cfg.UseDBSCAN,
		eps:        eps,
		minSamples: minSamples,
	}
}

// CacheSize reports how many published vectors the cache holds.
func (e *Engine) CacheSize() int { return len(e.ids) }

func (e *Engine) ensureLoaded(ctx context.Context) error {
	if e.loaded {
		return nil
	}
	var rows, err = e.source.GetPublishedEmbeddings(ctx, e.windowDays)
	if err != nil {
		return fmt.Errorf("loading published window: %w", err)
	}
	e.ids = make([]int64, 0, len(rows))
	e.matrix = make([][]float32, 0, len(rows))
	for _, r := range rows {
		e.ids = append(e.ids, r.ID)
		e.matrix = append(e.matrix, r.Embedding)
	}
	e.loaded = true
	log.WithFields(log.Fields{"published": len(e.ids), "window_days": e.windowDays}).Debug("dedup cache loaded")
	return nil
}

// AddPublished appends freshly published vectors to the cache. The ids
// and vectors slices must be aligned. Called by the publication stage
// after each category, under the run's single-task ownership.
func (e *Engine) AddPublished(ids []int64, vecs [][]float32) {
	for i := range ids {
		e.ids = append(e.ids, ids[i])
		e.matrix = append(e.matrix, vecs[i])
	}
}

// FilterDuplicates splits candidates into unique messages and a
// rejection map keyed by message id, every value being the
// is_duplicate reason. Candidates are also deduplicated against each
// other within the batch.
func (e *Engine) FilterDuplicates(ctx context.Context, msgs []model.RawMessage) ([]model.RawMessage, map[int64]string, error) {
	if len(msgs) == 0 {
		return nil, map[int64]string{}, nil
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, nil, err
	}

	var texts = make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Text
	}
	var vecs, err = e.emb.EncodeBatch(ctx, texts, embedding.DefaultBatchSize)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding candidates: %w", err)
	}

	unique, rejected, err := e.filterBatch(msgs, vecs)
	if err == nil {
		metrics.DuplicatesDetected.Add(float64(len(rejected)))
	}
	return unique, rejected, err
}

func (e *Engine) filterBatch(msgs []model.RawMessage, vecs [][]float32) ([]model.RawMessage, map[int64]string, error) {
	if e.useDBSCAN {
		return e.filterDBSCAN(msgs, vecs)
	}
	return e.filterPairwise(msgs, vecs)
}

// filterPairwise marks a candidate duplicate when its best score against
// the published matrix plus previously accepted candidates reaches the
// threshold. Accepted candidates join the local comparison set so the
// rest of the batch can match them.
func (e *Engine) filterPairwise(msgs []model.RawMessage, vecs [][]float32) ([]model.RawMessage, map[int64]string, error) {
	var unique []model.RawMessage
	var rejected = make(map[int64]string)
	var seen = append([][]float32{}, e.matrix...)

	for i, m := range msgs {
		var _, best = embedding.MaxSimilarity(vecs[i], seen)
		if best >= e.threshold {
			rejected[m.ID] = model.ReasonDuplicate
			log.WithFields(log.Fields{
				"message_id": m.ID,
				"channel":    m.ChannelHandle,
				"score":      fmt.Sprintf("%.3f", best),
			}).Debug("duplicate candidate")
			continue
		}
		unique = append(unique, m)
		seen = append(seen, vecs[i])
	}
	return unique, rejected, nil
}

// filterDBSCAN clusters published and candidate vectors together.
// Candidates sharing a cluster with any published vector are
// duplicates; noise candidates are unique; candidates that form a new
// cluster among themselves collapse to one representative, preferring
// the highest LLM score and falling back to batch order.
func (e *Engine) filterDBSCAN(msgs []model.RawMessage, vecs [][]float32) ([]model.RawMessage, map[int64]string, error) {
	var combined = append(append([][]float32{}, e.matrix...), vecs...)
	var labels = DBSCAN(combined, e.eps, e.minSamples)

	var publishedLabels = make(map[int]bool)
	for _, l := range labels[:len(e.matrix)] {
		if l != Noise {
			publishedLabels[l] = true
		}
	}

	// Pick one representative per purely-new cluster.
	var representative = make(map[int]int) // label -> candidate index
	for i := range msgs {
		var l = labels[len(e.matrix)+i]
		if l == Noise || publishedLabels[l] {
			continue
		}
		if cur, ok := representative[l]; !ok || msgScore(msgs[i]) > msgScore(msgs[cur]) {
			representative[l] = i
		}
	}

	var unique []model.RawMessage
	var rejected = make(map[int64]string)
	for i, m := range msgs {
		var l = labels[len(e.matrix)+i]
		switch {
		case l == Noise:
			unique = append(unique, m)
		case publishedLabels[l]:
			rejected[m.ID] = model.ReasonDuplicate
		case representative[l] == i:
			unique = append(unique, m)
		default:
			rejected[m.ID] = model.ReasonDuplicate
		}
	}
	return unique, rejected, nil
}

func msgScore(m model.RawMessage) int {
	if m.LLMScore == nil {
		return 0
	}
	return *m.LLMScore
}
