package telegramclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tg"
	log "github.com/sirupsen/logrus"
)

// Conversation is a two-way exchange with one user, used for the
// interactive moderation review. Incoming messages from that user are
// routed into the conversation while it is open.
type Conversation struct {
	client *Client
	peer   string
	userID int64
	inbox  chan string
}

// OpenConversation resolves the username and starts routing their
// replies. Close releases the routing slot.
func (c *Client) OpenConversation(ctx context.Context, username string) (*Conversation, error) {
	if err := c.limiter.WaitRequest(ctx); err != nil {
		return nil, err
	}
	var resolved, err = withFloodWait(ctx, c.limiter, func() (*tg.ContactsResolvedPeer, error) {
		return c.api.ContactsResolveUsername(ctx, strings.TrimPrefix(username, "@"))
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", username, err)
	}

	var userID int64 = -1
	for _, u := range resolved.Users {
		if user, ok := u.(*tg.User); ok {
			userID = user.ID
			break
		}
	}
	if userID < 0 {
		return nil, fmt.Errorf("resolve %s: not a user", username)
	}

	var conv = &Conversation{
		client: c,
		peer:   username,
		userID: userID,
		inbox:  make(chan string, 8),
	}
	c.convMu.Lock()
	c.convs[userID] = conv.inbox
	c.convMu.Unlock()
	return conv, nil
}

// deliverReply routes an incoming private message into the open
// conversation with that user, if any.
func (c *Client) deliverReply(userID int64, text string) {
	c.convMu.Lock()
	var inbox = c.convs[userID]
	c.convMu.Unlock()
	if inbox == nil {
		return
	}
	select {
	case inbox <- text:
	default:
		log.WithField("user_id", userID).Warn("conversation inbox full, dropping reply")
	}
}

func (conv *Conversation) Send(ctx context.Context, text string) error {
	return conv.client.SendMessage(ctx, conv.peer, text)
}

// WaitReply blocks for the next message from the user. The timeout maps
// to context.DeadlineExceeded so callers treat it like any deadline.
func (conv *Conversation) WaitReply(ctx context.Context, timeout time.Duration) (string, error) {
	var timer = time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case text := <-conv.inbox:
		return text, nil
	case <-timer.C:
		return "", context.DeadlineExceeded
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (conv *Conversation) Close() {
	conv.client.convMu.Lock()
	delete(conv.client.convs, conv.userID)
	conv.client.convMu.Unlock()
}
