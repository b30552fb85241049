package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
)

// AddChannel creates the channel row for handle (case-insensitive) or
// returns the existing id. Re-adding reactivates a deactivated channel
// and refreshes its title.
func (s *Store) AddChannel(ctx context.Context, handle, title string) (int64, error) {
	var id int64
	var err = s.withRetry(ctx, "add_channel", func(ctx context.Context) error {
		var res, err = s.db.ExecContext(ctx,
			`INSERT INTO channels (handle, title, active, created_at) VALUES (?, ?, 1, ?)
			 ON CONFLICT (handle) DO UPDATE SET active = 1, title = excluded.title`,
			handle, title, encodeTime(time.Now()))
		if err != nil {
			return err
		}
		if _, err = res.LastInsertId(); err != nil {
			return err
		}
		// The upsert path reports the rowid of the updated row on modern
		// sqlite, but look it up explicitly to stay unambiguous.
		return s.db.QueryRowContext(ctx,
			`SELECT id FROM channels WHERE handle = ?`, handle).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("add_channel %q: %w", handle, err)
	}
	return id, nil
}

// GetChannelID resolves a handle to its surrogate id. Returns 0 and no
// error when the channel is unknown.
func (s *Store) GetChannelID(ctx context.Context, handle string) (int64, error) {
	var id int64
	var err = s.db.QueryRowContext(ctx,
		`SELECT id FROM channels WHERE handle = ?`, handle).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get_channel_id %q: %w", handle, err)
	}
	return id, nil
}

// ListActiveChannels returns every active channel, handle-sorted.
func (s *Store) ListActiveChannels(ctx context.Context) ([]model.Channel, error) {
	var rows, err = s.db.QueryContext(ctx,
		`SELECT id, handle, title, active, created_at FROM channels
		 WHERE active = 1 ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("list_channels: %w", err)
	}
	defer rows.Close()

	var out []model.Channel
	for rows.Next() {
		var c model.Channel
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Handle, &c.Title, &c.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("list_channels scan: %w", err)
		}
		c.CreatedAt = decodeTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeactivateChannel flags a channel inactive on unsubscribe. Rows are
// never hard-deleted while raw messages reference them.
func (s *Store) DeactivateChannel(ctx context.Context, handle string) error {
	return s.withRetry(ctx, "deactivate_channel", func(ctx context.Context) error {
		var _, err = s.db.ExecContext(ctx,
			`UPDATE channels SET active = 0 WHERE handle = ?`, handle)
		return err
	})
}
