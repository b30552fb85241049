package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

// isBusy reports whether err is sqlite lock contention, the only class
// of storage error worth retrying.
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// withRetry runs op, retrying on busy/locked errors with exponential
// backoff per the configured policy. Non-contention errors propagate
// immediately. Each attempt runs under the configured operation
// timeout.
func (s *Store) withRetry(ctx context.Context, what string, op func(ctx context.Context) error) error {
	var delay = time.Duration(s.retry.BaseDelaySeconds * float64(time.Second))
	var err error
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		if err = s.attempt(ctx, op); err == nil || !isBusy(err) {
			return err
		}
		if attempt == s.retry.MaxAttempts {
			break
		}
		log.WithFields(log.Fields{
			"op":      what,
			"attempt": attempt,
			"delay":   delay,
		}).Warn("storage busy, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = time.Duration(float64(delay) * s.retry.BackoffMultiplier)
	}
	return fmt.Errorf("%s: still busy after %d attempts: %w", what, s.retry.MaxAttempts, err)
}

func (s *Store) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return op(ctx)
}
