// Package listener is the ingestion stage: a single-task event consumer
// that filters incoming channel messages and persists the survivors.
package listener

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/config"
	"github.com/lifeexplorer230/tg-news-bot-sub000/metrics"
	"github.com/lifeexplorer230/tg-news-bot-sub000/textutil"
)

// MaxMessageSize bounds the accepted event payload. Oversized events
// are dropped before any resolution or storage work happens.
const MaxMessageSize = 100000

// fingerprintCacheSize bounds the in-memory duplicate filter. The
// database UNIQUE constraint stays authoritative; the cache only spares
// it the obvious repeats after reconnects.
const fingerprintCacheSize = 4096

// Event is one incoming channel message, already mapped from the
// platform update by the client layer.
type Event struct {
	ChannelHandle string
	ChannelTitle  string
	ExternalID    int64
	Text          string
	OccurredAt    time.Time
	HasMedia      bool
}

// Store is the slice of the storage API the listener writes through.
type Store interface {
	AddChannel(ctx context.Context, handle, title string) (int64, error)
	SaveRawMessage(ctx context.Context, channelID, externalID int64, text string, occurredAt time.Time, hasMedia bool) (int64, bool, error)
}

// Outcome says what happened to one event, for logs and metrics.
type Outcome string

const (
	OutcomeSaved           Outcome = "saved"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeTooLarge        Outcome = "too_large"
	OutcomeTooShort        Outcome = "too_short"
	OutcomeExcludeKeyword  Outcome = "exclude_keyword"
	OutcomeTooOld          Outcome = "too_old"
	OutcomeChannelFiltered Outcome = "channel_filtered"
)

// Listener filters and persists channel events.
type Listener struct {
	store     Store
	cfg       config.ListenerConfig
	exclude   []string
	whitelist map[string]bool
	blacklist map[string]bool
	seen      *lru.Cache[string, struct{}]
	// maxAge rejects late redeliveries after reconnect gaps.
	maxAge time.Duration
	now    func() time.Time
}

func New(store Store, cfg config.ListenerConfig, filters config.FiltersConfig) (*Listener, error) {
	var seen, err = lru.New[string, struct{}](fingerprintCacheSize)
	if err != nil {
		return nil, fmt.Errorf("fingerprint cache: %w", err)
	}

	var exclude = make([]string, 0, len(filters.ExcludeKeywords))
	for _, k := range filters.ExcludeKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			exclude = append(exclude, k)
		}
	}

	return &Listener{
		store:     store,
		cfg:       cfg,
		exclude:   exclude,
		whitelist: handleSet(cfg.ChannelWhitelist),
		blacklist: handleSet(cfg.ChannelBlacklist),
		seen:      seen,
		maxAge:    24 * time.Hour,
		now:       time.Now,
	}, nil
}

func handleSet(handles []string) map[string]bool {
	if len(handles) == 0 {
		return nil
	}
	var out = make(map[string]bool, len(handles))
	for _, h := range handles {
		out[normalizeHandle(h)] = true
	}
	return out
}

func normalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

// Mode returns the effective operating mode. Unknown modes fall back to
// subscriptions with a warning.
func (l *Listener) Mode() string {
	switch l.cfg.Mode {
	case "subscriptions", "manual":
		return l.cfg.Mode
	}
	log.WithField("mode", l.cfg.Mode).Warn("unknown listener mode, falling back to subscriptions")
	return "subscriptions"
}

// ManualChannels returns the configured fixed channel list.
func (l *Listener) ManualChannels() []string {
	return l.cfg.ManualChannels
}

// HandleEvent runs one event through the filter chain and persists it
// if it survives. The size check runs first: an oversized payload must
// not trigger any resolution or storage work.
func (l *Listener) HandleEvent(ctx context.Context, ev Event) (Outcome, error) {
	var outcome, err = l.handleEvent(ctx, ev)
	switch {
	case err != nil:
	case outcome == OutcomeSaved:
		metrics.MessagesIngested.Inc()
	default:
		metrics.MessagesRejected.WithLabelValues(string(outcome)).Inc()
	}
	return outcome, err
}

func (l *Listener) handleEvent(ctx context.Context, ev Event) (Outcome, error) {
	if size := len(ev.Text); size > MaxMessageSize {
		log.WithFields(log.Fields{
			"channel": ev.ChannelHandle,
			"size":    size,
			"limit":   MaxMessageSize,
		}).Warn("oversized message dropped")
		return OutcomeTooLarge, nil
	}

	var text = textutil.Sanitize(ev.Text)
	if len([]rune(text)) < l.cfg.MinMessageLength {
		return OutcomeTooShort, nil
	}

	if kw := l.matchExclude(text); kw != "" {
		log.WithFields(log.Fields{"channel": ev.ChannelHandle, "keyword": kw}).Debug("excluded by keyword")
		return OutcomeExcludeKeyword, nil
	}

	if age := l.now().Sub(ev.OccurredAt); age > l.maxAge {
		log.WithFields(log.Fields{"channel": ev.ChannelHandle, "age": age.Round(time.Minute)}).Debug("late delivery dropped")
		return OutcomeTooOld, nil
	}

	var handle = normalizeHandle(ev.ChannelHandle)
	if !l.channelAllowed(handle) {
		return OutcomeChannelFiltered, nil
	}

	var fingerprint = fmt.Sprintf("%s/%d", handle, ev.ExternalID)
	if _, dup := l.seen.Get(fingerprint); dup {
		log.WithFields(log.Fields{"channel": handle, "external_id": ev.ExternalID}).Info("duplicate external id")
		return OutcomeDuplicate, nil
	}

	channelID, err := l.store.AddChannel(ctx, handle, ev.ChannelTitle)
	if err != nil {
		return "", fmt.Errorf("resolve channel %s: %w", handle, err)
	}

	_, inserted, err := l.store.SaveRawMessage(ctx, channelID, ev.ExternalID, text, ev.OccurredAt, ev.HasMedia)
	if err != nil {
		return "", fmt.Errorf("save message %s/%d: %w", handle, ev.ExternalID, err)
	}
	l.seen.Add(fingerprint, struct{}{})
	if !inserted {
		log.WithFields(log.Fields{"channel": handle, "external_id": ev.ExternalID}).Info("duplicate external id")
		return OutcomeDuplicate, nil
	}

	log.WithFields(log.Fields{"channel": handle, "external_id": ev.ExternalID, "len": len(text)}).Debug("message saved")
	return OutcomeSaved, nil
}

func (l *Listener) matchExclude(text string) string {
	var lower = strings.ToLower(text)
	for _, kw := range l.exclude {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

// channelAllowed applies the whitelist (when present) and then the
// blacklist, both case-insensitive on the bare handle.
func (l *Listener) channelAllowed(handle string) bool {
	if l.whitelist != nil && !l.whitelist[handle] {
		return false
	}
	return !l.blacklist[handle]
}
