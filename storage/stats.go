package storage

import (
	"context"
	"fmt"
	"time"
)

// Stats are whole-table counts for the status reporter.
type Stats struct {
	Channels       int
	RawMessages    int
	Unprocessed    int
	Published      int
	OldestRawAge   time.Duration
	LatestIngested time.Time
}

// DayStats are counts since the local midnight of a configured timezone.
type DayStats struct {
	Ingested   int
	Processed  int
	Duplicates int
	Published  int
}

// GetStats returns whole-table counts.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var out Stats
	var oldestRaw, latestIngested string

	var err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM channels WHERE active = 1),
			(SELECT COUNT(*) FROM raw_messages),
			(SELECT COUNT(*) FROM raw_messages WHERE processed = 0),
			(SELECT COUNT(*) FROM published),
			COALESCE((SELECT MIN(occurred_at) FROM raw_messages), ''),
			COALESCE((SELECT MAX(ingested_at) FROM raw_messages), '')`).
		Scan(&out.Channels, &out.RawMessages, &out.Unprocessed, &out.Published, &oldestRaw, &latestIngested)
	if err != nil {
		return nil, fmt.Errorf("get_stats: %w", err)
	}
	if oldestRaw != "" {
		out.OldestRawAge = time.Since(decodeTime(oldestRaw))
	}
	if latestIngested != "" {
		out.LatestIngested = decodeTime(latestIngested)
	}
	return &out, nil
}

// GetTodayStats returns counts since the local midnight of tz. Server
// now is converted into tz before computing the day boundary, then the
// boundary converts back to UTC for comparison against stored rows.
func (s *Store) GetTodayStats(ctx context.Context, tz *time.Location) (*DayStats, error) {
	var now = time.Now().In(tz)
	var midnight = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, tz)
	var cutoff = encodeTime(midnight)

	var out DayStats
	var err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM raw_messages WHERE ingested_at >= ?),
			(SELECT COUNT(*) FROM raw_messages WHERE processed = 1 AND ingested_at >= ?),
			(SELECT COUNT(*) FROM raw_messages WHERE is_duplicate = 1 AND ingested_at >= ?),
			(SELECT COUNT(*) FROM published WHERE published_at >= ?)`,
		cutoff, cutoff, cutoff, cutoff).
		Scan(&out.Ingested, &out.Processed, &out.Duplicates, &out.Published)
	if err != nil {
		return nil, fmt.Errorf("get_today_stats: %w", err)
	}
	return &out, nil
}
