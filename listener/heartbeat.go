package listener

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
)

// Heartbeat touches a file on a steady cadence so an external check can
// tell a live listener from a wedged one by mtime age alone.
type Heartbeat struct {
	path     string
	interval time.Duration
}

func NewHeartbeat(path string, interval time.Duration) *Heartbeat {
	return &Heartbeat{path: path, interval: interval}
}

// Run touches the file immediately and then every interval until the
// context is cancelled. Touch failures are logged, not fatal: a full
// disk should not take the listener down with it.
func (h *Heartbeat) Run(ctx context.Context) {
	if err := h.Touch(); err != nil {
		log.WithFields(log.Fields{"path": h.path, "error": err}).Warn("heartbeat touch failed")
	}
	var ticker = time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Touch(); err != nil {
				log.WithFields(log.Fields{"path": h.path, "error": err}).Warn("heartbeat touch failed")
			}
		}
	}
}

// Touch updates the file mtime, creating the file and its directory on
// first use.
func (h *Heartbeat) Touch() error {
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("heartbeat dir: %w", err)
	}
	var now = time.Now()
	if err := os.Chtimes(h.path, now, now); err == nil {
		return nil
	}
	var f, err = os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("heartbeat create: %w", err)
	}
	return f.Close()
}
