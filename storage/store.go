// Package storage is the persistence engine: a single sqlite file in WAL
// mode behind the database/sql pool, with busy-retry on contention and a
// safe binary codec for embedding blobs.
package storage

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/config"
)

var memoryDBSeq atomic.Int64

const driverName = "sqlite3_tgnews"

// Per-connection tuning. WAL gives concurrent readers against the single
// listener writer; the negative cache_size is KiB, i.e. 32 MiB of page
// cache per connection.
var connectPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA cache_size = -32000",
	"PRAGMA foreign_keys = ON",
}

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for _, pragma := range connectPragmas {
				if _, err := conn.Exec(pragma, nil); err != nil {
					return fmt.Errorf("applying %q: %w", pragma, err)
				}
			}
			return nil
		},
	})
}

// Store owns all persisted rows. Other components hold short-lived query
// results only.
type Store struct {
	db      *sql.DB
	retry   config.RetryConfig
	timeout time.Duration
}

// Options tunes the pool, per-operation timeout and retry behavior.
// Zero values take the documented defaults.
type Options struct {
	PoolSize       int
	TimeoutSeconds int
	BusyTimeoutMS  int
	Retry          config.RetryConfig
}

func (o *Options) withDefaults() Options {
	var out = *o
	if out.PoolSize == 0 {
		out.PoolSize = 5
	}
	if out.PoolSize < 1 {
		out.PoolSize = 1
	} else if out.PoolSize > 10 {
		out.PoolSize = 10
	}
	if out.BusyTimeoutMS == 0 {
		out.BusyTimeoutMS = 30000
	}
	if out.TimeoutSeconds == 0 {
		out.TimeoutSeconds = 30
	}
	if out.Retry.MaxAttempts == 0 {
		out.Retry = config.RetryConfig{MaxAttempts: 5, BaseDelaySeconds: 0.5, BackoffMultiplier: 2}
	}
	return out
}

// Open opens (creating if needed) the sqlite file at path and applies the
// schema. Pass ":memory:" for an in-memory store in tests.
func Open(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	var dsn string
	if path == ":memory:" {
		// A uniquely named shared-cache in-memory DB, so every pooled
		// connection sees the same data but separate opens stay isolated.
		var n = memoryDBSeq.Add(1)
		dsn = fmt.Sprintf("file:tgnews_mem_%d?mode=memory&cache=shared&_busy_timeout=%d", n, opts.BusyTimeoutMS)
	} else {
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d", path, opts.BusyTimeoutMS)
	}

	var db, err = sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(opts.PoolSize)
	db.SetMaxIdleConns(opts.PoolSize)
	db.SetConnMaxIdleTime(5 * time.Minute)

	var s = &Store{
		db:      db,
		retry:   opts.Retry,
		timeout: time.Duration(opts.TimeoutSeconds) * time.Second,
	}
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, err
	}
	log.WithFields(log.Fields{"path": path, "pool": opts.PoolSize}).Debug("storage opened")
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS channels (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	handle     TEXT NOT NULL COLLATE NOCASE UNIQUE,
	title      TEXT NOT NULL DEFAULT '',
	active     INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS raw_messages (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id          INTEGER NOT NULL REFERENCES channels(id),
	external_message_id INTEGER NOT NULL,
	text                TEXT NOT NULL,
	occurred_at         TEXT NOT NULL,
	has_media           INTEGER NOT NULL DEFAULT 0,
	processed           INTEGER NOT NULL DEFAULT 0,
	is_duplicate        INTEGER NOT NULL DEFAULT 0,
	llm_score           INTEGER,
	rejection_reason    TEXT,
	ingested_at         TEXT NOT NULL,
	UNIQUE (channel_id, external_message_id)
);

CREATE INDEX IF NOT EXISTS idx_raw_messages_processed_date
	ON raw_messages (processed, occurred_at);

CREATE TABLE IF NOT EXISTS published (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	text              TEXT NOT NULL,
	embedding         BLOB NOT NULL,
	source_message_id INTEGER REFERENCES raw_messages(id),
	source_channel_id INTEGER REFERENCES channels(id),
	published_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_published_published_at
	ON published (published_at);
`

func (s *Store) applySchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Timestamps are persisted as RFC 3339 UTC strings so that lexical
// comparison in SQL matches chronological order.
const timeLayout = time.RFC3339Nano

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) time.Time {
	var t, err = time.Parse(timeLayout, s)
	if err != nil {
		// Tolerate second-precision rows written by earlier versions.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}
