package moderation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/embedding"
	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
)

// Encoder produces embeddings for the final duplicate check.
type Encoder interface {
	EncodeBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

// Rejection pairs a dropped post with the reason it was dropped, for
// the processed-state bookkeeping.
type Rejection struct {
	Post   model.Post
	Reason string
}

// Result is the outcome of one moderation pass.
type Result struct {
	Approved []model.Post
	Rejected []Rejection
}

// Auto is the unattended moderation pass: field validation, score
// ordering, a local embedding dedup and the final size cut.
type Auto struct {
	enc       Encoder
	threshold float64
}

func NewAuto(enc Encoder, threshold float64) *Auto {
	return &Auto{enc: enc, threshold: threshold}
}

func (a *Auto) Moderate(ctx context.Context, posts []model.Post, finalTopN int) (Result, error) {
	var res Result

	for _, post := range posts {
		if reason := missingField(post); reason != "" {
			log.WithFields(log.Fields{
				"source_message_id": post.SourceMessageID,
				"reason":            reason,
			}).Info("post rejected by auto moderation")
			res.Rejected = append(res.Rejected, Rejection{Post: post, Reason: reason})
			continue
		}
		res.Approved = append(res.Approved, post)
	}

	sort.SliceStable(res.Approved, func(i, j int) bool {
		return res.Approved[i].Score > res.Approved[j].Score
	})

	var err error
	res, err = a.dedupeFinal(ctx, res)
	if err != nil {
		return Result{}, err
	}

	if finalTopN > 0 && len(res.Approved) > finalTopN {
		for _, post := range res.Approved[finalTopN:] {
			res.Rejected = append(res.Rejected, Rejection{Post: post, Reason: model.ReasonExceededTopNLimit})
		}
		res.Approved = res.Approved[:finalTopN]
	}
	return res, nil
}

// missingField returns the rejection reason for a post the model
// returned incomplete, or "".
func missingField(post model.Post) string {
	switch {
	case strings.TrimSpace(post.Text) == "":
		return model.ReasonMissingText
	case strings.TrimSpace(post.Title) == "":
		return model.ReasonMissingTitle
	case strings.TrimSpace(post.Description) == "":
		return model.ReasonMissingDesc
	}
	return ""
}

// dedupeFinal is a last-line semantic check across the already-ranked
// list, cumulative pairwise like the main dedup engine but local to the
// approved set: chunked selection can pick near-identical stories the
// cross-chunk id dedup cannot see.
func (a *Auto) dedupeFinal(ctx context.Context, res Result) (Result, error) {
	if len(res.Approved) < 2 {
		return res, nil
	}

	var texts = make([]string, len(res.Approved))
	for i, post := range res.Approved {
		texts[i] = post.Text
	}
	var vecs [][]float32
	if a.enc != nil {
		var err error
		vecs, err = a.enc.EncodeBatch(ctx, texts, embedding.DefaultBatchSize)
		if err != nil {
			return Result{}, fmt.Errorf("final dedup encode: %w", err)
		}
	}

	var seenSource = make(map[int64]bool, len(res.Approved))
	var seenVecs [][]float32
	var kept = res.Approved[:0]

	for i, post := range res.Approved {
		var dup = seenSource[post.SourceMessageID]
		if !dup && vecs != nil {
			var _, best = embedding.MaxSimilarity(vecs[i], seenVecs)
			dup = best >= a.threshold
		}
		if dup {
			res.Rejected = append(res.Rejected, Rejection{Post: post, Reason: model.ReasonDuplicateInFinal})
			continue
		}
		seenSource[post.SourceMessageID] = true
		if vecs != nil {
			seenVecs = append(seenVecs, vecs[i])
		}
		kept = append(kept, post)
	}
	res.Approved = kept
	return res, nil
}
