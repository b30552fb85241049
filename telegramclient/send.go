package telegramclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/tgerr"
	log "github.com/sirupsen/logrus"
)

var errNotChannel = errors.New("resolved peer is not a channel")

// SendMessage delivers text to a peer (channel handle or username),
// honoring the send rate limits and FloodWait pushback. The peer "me"
// addresses the account's own saved messages.
func (c *Client) SendMessage(ctx context.Context, peer, text string) error {
	if err := c.limiter.WaitSend(ctx, peer); err != nil {
		return err
	}
	var _, err = withFloodWait(ctx, c.limiter, func() (struct{}, error) {
		if peer == "me" {
			var _, err = c.sender.Self().Text(ctx, text)
			return struct{}{}, err
		}
		var _, err = c.sender.Resolve(peer).Text(ctx, text)
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", peer, err)
	}
	return nil
}

// withFloodWait runs op, sleeping out FloodWait errors as instructed by
// the server. Waits beyond the cap abandon the operation: a digest
// parked for over an hour is stale anyway.
func withFloodWait[T any](ctx context.Context, limiter *Limiter, op func() (T, error)) (T, error) {
	var zero T
	for {
		var out, err = op()
		if err == nil {
			return out, nil
		}
		var wait, isFlood = tgerr.AsFloodWait(err)
		if !isFlood {
			return zero, err
		}
		limiter.SlowDown()
		if wait > floodWaitCap {
			return zero, fmt.Errorf("flood wait %s exceeds cap %s: %w", wait, floodWaitCap, err)
		}
		log.WithField("wait", wait).Warn("flood wait, sleeping")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
