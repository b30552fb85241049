package telegramclient

import (
	"context"
	"strings"
	"time"

	"github.com/gotd/td/tg"
	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/listener"
)

// EventHandler consumes one mapped channel message.
type EventHandler func(ctx context.Context, ev listener.Event) error

// OnChannelMessage registers the ingestion hook. When allowed is
// non-nil only messages from those channel ids pass (manual mode);
// otherwise every followed channel is observed (subscriptions mode).
func (c *Client) OnChannelMessage(allowed map[int64]bool, handler EventHandler) {
	c.dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		var msg, ok = u.Message.(*tg.Message)
		if !ok || msg.Out {
			return nil
		}
		var peer, isChannel = msg.PeerID.(*tg.PeerChannel)
		if !isChannel {
			return nil
		}
		if allowed != nil && !allowed[peer.ChannelID] {
			return nil
		}
		var ch = e.Channels[peer.ChannelID]
		if ch == nil || ch.Username == "" {
			// Private channels have no public handle and no resolvable
			// source link; skip them.
			return nil
		}

		var ev = listener.Event{
			ChannelHandle: ch.Username,
			ChannelTitle:  ch.Title,
			ExternalID:    int64(msg.ID),
			Text:          msg.Message,
			OccurredAt:    time.Unix(int64(msg.Date), 0),
			HasMedia:      msg.Media != nil,
		}
		if err := handler(ctx, ev); err != nil {
			log.WithFields(log.Fields{"channel": ch.Username, "error": err}).Error("event handling failed")
		}
		// Update processing errors must not tear down the connection.
		return nil
	})

	c.dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		var msg, ok = u.Message.(*tg.Message)
		if !ok || msg.Out {
			return nil
		}
		if peer, isUser := msg.PeerID.(*tg.PeerUser); isUser {
			c.deliverReply(peer.UserID, msg.Message)
		}
		return nil
	})
}

// ResolveChannels maps handles to channel ids, for manual mode startup.
// Unresolvable handles are logged and skipped so one dead channel does
// not block ingestion from the rest.
func (c *Client) ResolveChannels(ctx context.Context, handles []string) (map[int64]bool, error) {
	var out = make(map[int64]bool, len(handles))
	for _, handle := range handles {
		var ch, err = c.resolveChannel(ctx, handle)
		if err != nil {
			log.WithFields(log.Fields{"channel": handle, "error": err}).Warn("channel resolution failed, skipping")
			continue
		}
		out[ch.ID] = true
	}
	return out, nil
}

func (c *Client) resolveChannel(ctx context.Context, handle string) (*tg.Channel, error) {
	if err := c.limiter.WaitRequest(ctx); err != nil {
		return nil, err
	}
	var resolved, err = withFloodWait(ctx, c.limiter, func() (*tg.ContactsResolvedPeer, error) {
		return c.api.ContactsResolveUsername(ctx, strings.TrimPrefix(handle, "@"))
	})
	if err != nil {
		return nil, err
	}
	for _, chat := range resolved.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			return ch, nil
		}
	}
	return nil, errNotChannel
}
