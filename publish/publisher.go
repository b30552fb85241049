package publish

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/config"
	"github.com/lifeexplorer230/tg-news-bot-sub000/metrics"
	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
	"github.com/lifeexplorer230/tg-news-bot-sub000/moderation"
)

// Sender delivers one message to a peer (channel handle or username).
type Sender interface {
	SendMessage(ctx context.Context, peer, text string) error
}

// Encoder produces embeddings for the published texts.
type Encoder interface {
	EncodeBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

// Saver persists one published item with its embedding.
type Saver interface {
	SavePublished(ctx context.Context, text string, embedding []float32, sourceMessageID, sourceChannelID int64) (int64, error)
}

// DedupCache receives the just-published vectors so the next run sees
// them without a storage round trip.
type DedupCache interface {
	AddPublished(ids []int64, vecs [][]float32)
}

// Result reports what one publication attempt accomplished.
type Result struct {
	Sent      bool
	Previewed bool
	Saved     int
	Failed    int
}

// Publisher sends the digest and records the outcome.
type Publisher struct {
	cfg    config.PublicationConfig
	sender Sender
	enc    Encoder
	saver  Saver
	dedup  DedupCache
}

func New(cfg config.PublicationConfig, sender Sender, enc Encoder, saver Saver, dedup DedupCache) *Publisher {
	return &Publisher{cfg: cfg, sender: sender, enc: enc, saver: saver, dedup: dedup}
}

// Publish renders and sends the digest, then saves each post with its
// embedding. The send to the target channel is the point of no return:
// after it succeeds every bookkeeping failure is logged and tolerated,
// never surfaced, so a flaky database cannot double-publish a digest.
func (p *Publisher) Publish(ctx context.Context, posts []model.Post, values TemplateValues) (Result, error) {
	if len(posts) == 0 {
		return Result{}, fmt.Errorf("publish: empty digest")
	}
	for i := range posts {
		moderation.EnsurePostFields(&posts[i])
	}

	var res Result
	var digest = RenderDigest(posts, p.cfg, values, time.Now())

	if p.cfg.PreviewChannel != "" {
		if err := p.sender.SendMessage(ctx, p.cfg.PreviewChannel, digest); err != nil {
			log.WithFields(log.Fields{"channel": p.cfg.PreviewChannel, "error": err}).Warn("preview send failed")
		} else {
			res.Previewed = true
		}
	}

	if err := p.sender.SendMessage(ctx, p.cfg.Channel, digest); err != nil {
		return res, fmt.Errorf("send digest to %s: %w", p.cfg.Channel, err)
	}
	res.Sent = true
	metrics.PostsPublished.Add(float64(len(posts)))
	log.WithFields(log.Fields{"channel": p.cfg.Channel, "posts": len(posts)}).Info("digest published")

	p.notify(ctx, len(posts))
	res.Saved, res.Failed = p.save(ctx, posts)
	return res, nil
}

func (p *Publisher) notify(ctx context.Context, count int) {
	if p.cfg.NotifyAccount == "" {
		return
	}
	var text = fmt.Sprintf("Дайджест опубликован в %s: %d новостей.", p.cfg.Channel, count)
	if err := p.sender.SendMessage(ctx, p.cfg.NotifyAccount, text); err != nil {
		log.WithFields(log.Fields{"account": p.cfg.NotifyAccount, "error": err}).Warn("notify send failed")
	}
}

// save embeds and persists each published post. A row that fails to
// save is logged and skipped; the rest still land in storage and the
// dedup cache.
func (p *Publisher) save(ctx context.Context, posts []model.Post) (saved, failed int) {
	var texts = make([]string, len(posts))
	for i, post := range posts {
		texts[i] = post.Text
	}
	var vecs, err = p.enc.EncodeBatch(ctx, texts, 0)
	if err != nil {
		log.WithField("error", err).Error("embedding published posts failed, dedup memory not updated")
		return 0, len(posts)
	}

	var ids []int64
	var kept [][]float32
	for i, post := range posts {
		id, err := p.saver.SavePublished(ctx, post.Text, vecs[i], post.SourceMessageID, post.SourceChannelID)
		if err != nil {
			log.WithFields(log.Fields{
				"source_message_id": post.SourceMessageID,
				"error":             err,
			}).Warn("save published failed, continuing")
			failed++
			continue
		}
		ids = append(ids, id)
		kept = append(kept, vecs[i])
		saved++
	}
	if p.dedup != nil && len(ids) > 0 {
		p.dedup.AddPublished(ids, kept)
	}
	return saved, failed
}
