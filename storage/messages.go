package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
)

// SaveRawMessage persists one ingested message. It returns (0, false,
// nil) when the (channel_id, external_message_id) fingerprint already
// exists; the listener logs that at info, not error.
func (s *Store) SaveRawMessage(ctx context.Context, channelID, externalID int64, text string, occurredAt time.Time, hasMedia bool) (int64, bool, error) {
	var id int64
	var inserted bool
	var err = s.withRetry(ctx, "save_raw_message", func(ctx context.Context) error {
		var res, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO raw_messages
			 (channel_id, external_message_id, text, occurred_at, has_media, ingested_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			channelID, externalID, text, encodeTime(occurredAt), hasMedia, encodeTime(time.Now()))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			inserted = false
			return nil
		}
		inserted = true
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("save_raw_message channel=%d external=%d: %w", channelID, externalID, err)
	}
	return id, inserted, nil
}

// GetUnprocessed returns unprocessed messages whose occurred_at falls
// within the last withinHours, newest first, with the channel handle
// joined on for link building.
func (s *Store) GetUnprocessed(ctx context.Context, withinHours int) ([]model.RawMessage, error) {
	var cutoff = encodeTime(time.Now().Add(-time.Duration(withinHours) * time.Hour))
	var rows, err = s.db.QueryContext(ctx,
		`SELECT m.id, m.channel_id, c.handle, m.external_message_id, m.text,
		        m.occurred_at, m.has_media, m.ingested_at
		 FROM raw_messages m JOIN channels c ON c.id = m.channel_id
		 WHERE m.processed = 0 AND m.occurred_at >= ?
		 ORDER BY m.occurred_at DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("get_unprocessed: %w", err)
	}
	defer rows.Close()

	var out []model.RawMessage
	for rows.Next() {
		var m model.RawMessage
		var occurredAt, ingestedAt string
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.ChannelHandle, &m.ExternalID,
			&m.Text, &occurredAt, &m.HasMedia, &ingestedAt); err != nil {
			return nil, fmt.Errorf("get_unprocessed scan: %w", err)
		}
		m.OccurredAt = decodeTime(occurredAt)
		m.IngestedAt = decodeTime(ingestedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkProcessedBatch flags every referenced message processed in one
// transaction, recording the duplicate flag, LLM score and rejection
// reason.
func (s *Store) MarkProcessedBatch(ctx context.Context, updates []model.ProcessedUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.withRetry(ctx, "mark_processed_batch", func(ctx context.Context) error {
		var tx, err = s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx,
			`UPDATE raw_messages
			 SET processed = 1, is_duplicate = ?, llm_score = ?, rejection_reason = ?
			 WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, u := range updates {
			var score sql.NullInt64
			if u.LLMScore != nil {
				score = sql.NullInt64{Int64: int64(*u.LLMScore), Valid: true}
			}
			var reason sql.NullString
			if u.RejectionReason != "" {
				reason = sql.NullString{String: u.RejectionReason, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, u.IsDuplicate, score, reason, u.MessageID); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// GetMessage loads one raw message by id, for tests and admin tooling.
func (s *Store) GetMessage(ctx context.Context, id int64) (*model.RawMessage, error) {
	var m model.RawMessage
	var occurredAt, ingestedAt string
	var score sql.NullInt64
	var reason sql.NullString
	var err = s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, external_message_id, text, occurred_at, has_media,
		        processed, is_duplicate, llm_score, rejection_reason, ingested_at
		 FROM raw_messages WHERE id = ?`, id).
		Scan(&m.ID, &m.ChannelID, &m.ExternalID, &m.Text, &occurredAt, &m.HasMedia,
			&m.Processed, &m.IsDuplicate, &score, &reason, &ingestedAt)
	if err != nil {
		return nil, fmt.Errorf("get_message %d: %w", id, err)
	}
	if score.Valid {
		var v = int(score.Int64)
		m.LLMScore = &v
	}
	m.RejectionReason = reason.String
	m.OccurredAt = decodeTime(occurredAt)
	m.IngestedAt = decodeTime(ingestedAt)
	return &m, nil
}
