package telegramclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Rate limits are tuned below the platform's published thresholds so a
// healthy process never sees FloodWait under normal traffic.
const (
	requestsPerSecond = 30
	windowLimit       = 100
	windowSpan        = 10 * time.Second
	perChatLimit      = 20
	perChatSpan       = time.Minute

	// adaptiveMax caps how far server pushback slows us down.
	adaptiveMax   = 8.0
	adaptiveDecay = 30 * time.Second
)

// Limiter layers three request gates: a token bucket for burst
// smoothing, a sliding window for the 10-second budget, and a per-chat
// window for message sends. A multiplier stretches all waits after the
// server signals overload and decays back to 1 over time.
type Limiter struct {
	bucket *rate.Limiter

	mu         sync.Mutex
	window     []time.Time
	perChat    map[string][]time.Time
	multiplier float64
	lastSlow   time.Time
	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
}

func NewLimiter() *Limiter {
	return &Limiter{
		bucket:     rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		perChat:    make(map[string][]time.Time),
		multiplier: 1,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	var t = time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitRequest blocks until one generic API request may proceed.
func (l *Limiter) WaitRequest(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}
	return l.waitWindow(ctx)
}

// WaitSend blocks until a message send to chat may proceed, honoring
// the per-chat budget on top of the request gates.
func (l *Limiter) WaitSend(ctx context.Context, chat string) error {
	if err := l.WaitRequest(ctx); err != nil {
		return err
	}
	for {
		var wait = l.reserveChat(chat)
		if wait <= 0 {
			return nil
		}
		log.WithFields(log.Fields{"chat": chat, "wait": wait.Round(time.Millisecond)}).Debug("per-chat limit, waiting")
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// SlowDown doubles the adaptive multiplier in response to server
// pushback (a FloodWait or 420 error).
func (l *Limiter) SlowDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.multiplier *= 2
	if l.multiplier > adaptiveMax {
		l.multiplier = adaptiveMax
	}
	l.lastSlow = l.now()
	log.WithField("multiplier", fmt.Sprintf("%.1f", l.multiplier)).Warn("rate limiter slowing down")
}

func (l *Limiter) waitWindow(ctx context.Context) error {
	for {
		var wait = l.reserveWindow()
		if wait <= 0 {
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// reserveWindow admits the call if the 10-second window has room,
// otherwise returns how long to wait. The adaptive multiplier stretches
// the wait and relaxes once the last pushback is old enough.
func (l *Limiter) reserveWindow() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	var now = l.now()
	l.decayLocked(now)

	l.window = pruneBefore(l.window, now.Add(-windowSpan))
	if len(l.window) < windowLimit {
		l.window = append(l.window, now)
		return 0
	}
	var wait = l.window[0].Add(windowSpan).Sub(now)
	return time.Duration(float64(wait) * l.multiplier)
}

func (l *Limiter) reserveChat(chat string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	var now = l.now()

	var stamps = pruneBefore(l.perChat[chat], now.Add(-perChatSpan))
	if len(stamps) < perChatLimit {
		l.perChat[chat] = append(stamps, now)
		return 0
	}
	l.perChat[chat] = stamps
	var wait = stamps[0].Add(perChatSpan).Sub(now)
	return time.Duration(float64(wait) * l.multiplier)
}

func (l *Limiter) decayLocked(now time.Time) {
	if l.multiplier > 1 && now.Sub(l.lastSlow) > adaptiveDecay {
		l.multiplier /= 2
		if l.multiplier < 1 {
			l.multiplier = 1
		}
		l.lastSlow = now
	}
}

func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	var i = 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	return stamps[i:]
}
