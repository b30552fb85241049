package health

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/storage"
)

// StatusReporter pushes periodic pipeline statistics through the Bot
// API. It uses plain HTTP with a bot token so status delivery keeps
// working even when the MTProto session is the thing that broke.
type StatusReporter struct {
	token   string
	chat    string
	store   *storage.Store
	tz      *time.Location
	profile string
	client  *http.Client
	baseURL string
}

func NewStatusReporter(token, chat string, store *storage.Store, tz *time.Location, profile string) *StatusReporter {
	return &StatusReporter{
		token:   token,
		chat:    chat,
		store:   store,
		tz:      tz,
		profile: profile,
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: "https://api.telegram.org",
	}
}

// Send composes and delivers one status message.
func (r *StatusReporter) Send(ctx context.Context) error {
	var text, err = r.compose(ctx)
	if err != nil {
		return fmt.Errorf("compose status: %w", err)
	}
	return r.deliver(ctx, text)
}

func (r *StatusReporter) compose(ctx context.Context) (string, error) {
	var stats, err = r.store.GetStats(ctx)
	if err != nil {
		return "", err
	}
	today, err := r.store.GetTodayStats(ctx, r.tz)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Статус [%s] %s\n", r.profile, time.Now().In(r.tz).Format("02.01 15:04"))
	fmt.Fprintf(&b, "Сегодня: собрано %d, опубликовано %d\n", today.Ingested, today.Published)
	fmt.Fprintf(&b, "Всего: сообщений %d (необработанных %d), публикаций %d, каналов %d",
		stats.RawMessages, stats.Unprocessed, stats.Published, stats.Channels)
	return b.String(), nil
}

func (r *StatusReporter) deliver(ctx context.Context, text string) error {
	var endpoint = fmt.Sprintf("%s/bot%s/sendMessage", r.baseURL, r.token)
	var form = url.Values{"chat_id": {r.chat}, "text": {text}}

	var req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("status delivery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status delivery: http %d", resp.StatusCode)
	}
	log.WithField("chat", r.chat).Debug("status report sent")
	return nil
}
