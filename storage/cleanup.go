package storage

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// CleanupResult reports how many rows each table shed.
type CleanupResult struct {
	RawRemoved       int64
	PublishedRemoved int64
}

// Cleanup garbage-collects processed raw messages older than
// rawRetentionDays and published rows older than publishedRetentionDays.
// Unprocessed messages are never removed regardless of age.
func (s *Store) Cleanup(ctx context.Context, rawRetentionDays, publishedRetentionDays int) (*CleanupResult, error) {
	var out CleanupResult
	var rawCutoff = encodeTime(time.Now().AddDate(0, 0, -rawRetentionDays))
	var pubCutoff = encodeTime(time.Now().AddDate(0, 0, -publishedRetentionDays))

	var err = s.withRetry(ctx, "cleanup", func(ctx context.Context) error {
		var res, err = s.db.ExecContext(ctx,
			`DELETE FROM raw_messages WHERE processed = 1 AND occurred_at < ?`, rawCutoff)
		if err != nil {
			return err
		}
		if out.RawRemoved, err = res.RowsAffected(); err != nil {
			return err
		}

		res, err = s.db.ExecContext(ctx,
			`DELETE FROM published WHERE published_at < ?`, pubCutoff)
		if err != nil {
			return err
		}
		out.PublishedRemoved, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup: %w", err)
	}

	log.WithFields(log.Fields{
		"raw_removed":       out.RawRemoved,
		"published_removed": out.PublishedRemoved,
	}).Info("storage cleanup complete")
	return &out, nil
}
