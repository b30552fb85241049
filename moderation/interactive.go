package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/config"
	"github.com/lifeexplorer230/tg-news-bot-sub000/model"
)

// ErrCancelled is returned when the moderator aborts the digest, or
// when repeated unparseable replies exhaust the retry budget.
var ErrCancelled = errors.New("digest cancelled by moderator")

// Conversation is the two-way channel to the moderator account.
type Conversation interface {
	Send(ctx context.Context, text string) error
	// WaitReply blocks until the moderator answers or the timeout
	// elapses, in which case it returns context.DeadlineExceeded.
	WaitReply(ctx context.Context, timeout time.Duration) (string, error)
}

var (
	defaultCancelKeywords     = []string{"отмена", "cancel"}
	defaultPublishAllKeywords = []string{"0", "все", "all"}
)

// Interactive runs the attended pass on top of the auto checks.
type Interactive struct {
	auto       *Auto
	conv       Conversation
	timeout    time.Duration
	maxRetries int
	cancel     map[string]bool
	publishAll map[string]bool
}

func NewInteractive(auto *Auto, conv Conversation, cfg config.ModerationConfig) *Interactive {
	return &Interactive{
		auto:       auto,
		conv:       conv,
		timeout:    time.Duration(cfg.TimeoutHours) * time.Hour,
		maxRetries: cfg.MaxRetries,
		cancel:     keywordSet(cfg.CancelKeywords, defaultCancelKeywords),
		publishAll: keywordSet(cfg.PublishAllKeywords, defaultPublishAllKeywords),
	}
}

func keywordSet(configured, fallback []string) map[string]bool {
	if len(configured) == 0 {
		configured = fallback
	}
	var out = make(map[string]bool, len(configured))
	for _, k := range configured {
		out[strings.ToLower(strings.TrimSpace(k))] = true
	}
	return out
}

// Moderate sends the candidate list to the moderator and applies the
// reply. Numbers in the reply exclude those candidates; a keyword reply
// approves everything or cancels the digest. A timeout approves the
// full list; exhausted retries abort the digest.
func (m *Interactive) Moderate(ctx context.Context, posts []model.Post, finalTopN int) (Result, error) {
	var res, err = m.auto.Moderate(ctx, posts, finalTopN)
	if err != nil {
		return Result{}, err
	}
	if len(res.Approved) == 0 {
		return res, nil
	}

	if err := m.conv.Send(ctx, m.reviewMessage(res.Approved)); err != nil {
		return Result{}, fmt.Errorf("send review message: %w", err)
	}

	for attempt := 1; ; attempt++ {
		var reply, err = m.conv.WaitReply(ctx, m.timeout)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			log.WithFields(log.Fields{"timeout": m.timeout}).Warn("moderation timed out, approving all")
			return res, nil
		case err != nil:
			return Result{}, fmt.Errorf("wait for moderator reply: %w", err)
		}

		var exclude, verdict = m.parseReply(reply, len(res.Approved))
		switch verdict {
		case verdictCancel:
			return Result{}, ErrCancelled
		case verdictAll:
			return res, nil
		case verdictExclude:
			res = applyExclusions(res, exclude)
			var confirm = fmt.Sprintf("Принято: исключено %d, к публикации %d.", len(exclude), len(res.Approved))
			if err := m.conv.Send(ctx, confirm); err != nil {
				log.WithField("error", err).Warn("confirmation send failed")
			}
			return res, nil
		}

		if attempt > m.maxRetries {
			log.WithFields(log.Fields{"reply": reply, "attempts": attempt}).Warn("moderation retries exhausted, aborting")
			return Result{}, fmt.Errorf("retries exhausted: %w", ErrCancelled)
		}
		var hint = fmt.Sprintf("Не понял ответ. Пришлите номера для исключения (1-%d), 0 для публикации всех или «отмена».", len(res.Approved))
		if err := m.conv.Send(ctx, hint); err != nil {
			return Result{}, fmt.Errorf("send retry hint: %w", err)
		}
	}
}

// reviewMessage renders the numbered candidate list with the response
// grammar in the footer.
func (m *Interactive) reviewMessage(posts []model.Post) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Кандидаты в дайджест (%d):\n\n", len(posts))
	for i, post := range posts {
		fmt.Fprintf(&b, "%d. [%s] %s (оценка %d)\n%s\n\n", i+1, post.Category, post.Title, post.Score, post.Description)
	}
	b.WriteString("Пришлите номера для исключения через пробел или запятую, 0 для публикации всех, «отмена» для отмены выпуска.")
	return b.String()
}

type verdict int

const (
	verdictInvalid verdict = iota
	verdictCancel
	verdictAll
	verdictExclude
)

// parseReply classifies a moderator reply. Integers outside [1, n] and
// stray tokens are ignored; a reply yielding no usable number at all is
// invalid and triggers a retry prompt.
func (m *Interactive) parseReply(reply string, n int) ([]int, verdict) {
	var text = strings.ToLower(strings.TrimSpace(reply))
	if m.cancel[text] {
		return nil, verdictCancel
	}
	if m.publishAll[text] {
		return nil, verdictAll
	}

	var fields = strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == ';' || r == '\n'
	})
	var exclude []int
	var seen = make(map[int]bool)
	for _, f := range fields {
		var num, err = strconv.Atoi(f)
		if err != nil || num < 1 || num > n {
			continue
		}
		if !seen[num] {
			seen[num] = true
			exclude = append(exclude, num)
		}
	}
	if len(exclude) == 0 {
		return nil, verdictInvalid
	}
	return exclude, verdictExclude
}

func applyExclusions(res Result, exclude []int) Result {
	var drop = make(map[int]bool, len(exclude))
	for _, num := range exclude {
		drop[num-1] = true
	}
	var kept = make([]model.Post, 0, len(res.Approved))
	for i, post := range res.Approved {
		if drop[i] {
			res.Rejected = append(res.Rejected, Rejection{Post: post, Reason: model.ReasonRejectedByMod})
			continue
		}
		kept = append(kept, post)
	}
	res.Approved = kept
	return res
}
