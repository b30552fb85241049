package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// SavePublished records a published digest item together with its
// embedding, created atomically after the outbound send succeeded.
func (s *Store) SavePublished(ctx context.Context, text string, embedding []float32, sourceMessageID, sourceChannelID int64) (int64, error) {
	if len(embedding) == 0 {
		return 0, fmt.Errorf("save_published: empty embedding")
	}
	var blob = EncodeEmbedding(embedding)

	var msgID, chanID sql.NullInt64
	if sourceMessageID != 0 {
		msgID = sql.NullInt64{Int64: sourceMessageID, Valid: true}
	}
	if sourceChannelID != 0 {
		chanID = sql.NullInt64{Int64: sourceChannelID, Valid: true}
	}

	var id int64
	var err = s.withRetry(ctx, "save_published", func(ctx context.Context) error {
		var res, err = s.db.ExecContext(ctx,
			`INSERT INTO published (text, embedding, source_message_id, source_channel_id, published_at)
			 VALUES (?, ?, ?, ?, ?)`,
			text, blob, msgID, chanID, encodeTime(time.Now()))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("save_published: %w", err)
	}
	return id, nil
}

// PublishedEmbedding pairs a published row id with its decoded vector.
type PublishedEmbedding struct {
	ID        int64
	Embedding []float32
}

// GetPublishedEmbeddings returns the (id, embedding) pairs published in
// the last withinDays. Legacy rows that the safe decoder refuses are
// skipped with a warning rather than failing the whole window.
func (s *Store) GetPublishedEmbeddings(ctx context.Context, withinDays int) ([]PublishedEmbedding, error) {
	var cutoff = encodeTime(time.Now().AddDate(0, 0, -withinDays))
	var rows, err = s.db.QueryContext(ctx,
		`SELECT id, embedding FROM published WHERE published_at >= ? ORDER BY id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("get_published_embeddings: %w", err)
	}
	defer rows.Close()

	var out []PublishedEmbedding
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("get_published_embeddings scan: %w", err)
		}
		vec, err := DecodeEmbedding(blob)
		if err != nil {
			log.WithFields(log.Fields{"published_id": id, "error": err}).Warn("skipping undecodable embedding")
			continue
		}
		out = append(out, PublishedEmbedding{ID: id, Embedding: vec})
	}
	return out, rows.Err()
}
