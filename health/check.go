// Package health implements the liveness surface: the heartbeat file
// check, the healthcheck HTTP server and the status reporter.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/lifeexplorer230/tg-news-bot-sub000/storage"
)

// State is the overall verdict, ordered by severity.
type State int

const (
	StateHealthy State = iota
	StateDegraded
	StateUnhealthy
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	}
	return "unhealthy"
}

// ExitCode maps the state to the process exit code contract.
func (s State) ExitCode() int { return int(s) }

// Report is one full health evaluation.
type Report struct {
	State        State         `json:"-"`
	Status       string        `json:"status"`
	HeartbeatOK  bool          `json:"heartbeat_ok"`
	HeartbeatAge time.Duration `json:"heartbeat_age_seconds"`
	DatabaseOK   bool          `json:"database_ok"`
	Detail       string        `json:"detail,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// Checker evaluates the heartbeat file and the database.
type Checker struct {
	heartbeatPath string
	maxAge        time.Duration
	dbPath        string
	now           func() time.Time
}

func NewChecker(heartbeatPath string, maxAge time.Duration, dbPath string) *Checker {
	return &Checker{
		heartbeatPath: heartbeatPath,
		maxAge:        maxAge,
		dbPath:        dbPath,
		now:           time.Now,
	}
}

// Check runs both probes. A stale heartbeat degrades; a missing
// heartbeat or an unreachable database is unhealthy.
func (c *Checker) Check(ctx context.Context) Report {
	var rep = Report{CheckedAt: c.now()}

	var age, err = c.heartbeatAge()
	switch {
	case err != nil:
		rep.State = StateUnhealthy
		rep.Detail = fmt.Sprintf("heartbeat: %v", err)
	case age > c.maxAge:
		rep.State = StateDegraded
		rep.Detail = fmt.Sprintf("heartbeat stale: %s > %s", age.Round(time.Second), c.maxAge)
	default:
		rep.HeartbeatOK = true
	}
	rep.HeartbeatAge = age

	if dbErr := c.checkDatabase(ctx); dbErr != nil {
		rep.State = StateUnhealthy
		if rep.Detail != "" {
			rep.Detail += "; "
		}
		rep.Detail += fmt.Sprintf("database: %v", dbErr)
	} else {
		rep.DatabaseOK = true
	}

	rep.Status = rep.State.String()
	return rep
}

func (c *Checker) heartbeatAge() (time.Duration, error) {
	var info, err = os.Stat(c.heartbeatPath)
	if err != nil {
		return 0, err
	}
	return c.now().Sub(info.ModTime()), nil
}

func (c *Checker) checkDatabase(ctx context.Context) error {
	var store, err = storage.Open(c.dbPath, storage.Options{PoolSize: 1})
	if err != nil {
		return err
	}
	defer store.Close()
	_, err = store.GetStats(ctx)
	return err
}

// Render writes the report for humans or machines. quiet suppresses
// everything but the status word.
func (r Report) Render(w io.Writer, asJSON, quiet bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(r)
	}
	if quiet {
		_, err := fmt.Fprintln(w, r.Status)
		return err
	}

	var paint = color.New(color.FgGreen)
	switch r.State {
	case StateDegraded:
		paint = color.New(color.FgYellow)
	case StateUnhealthy:
		paint = color.New(color.FgRed)
	}
	paint.Fprintf(w, "status: %s\n", r.Status)
	fmt.Fprintf(w, "heartbeat: ok=%v age=%s\n", r.HeartbeatOK, r.HeartbeatAge.Round(time.Second))
	fmt.Fprintf(w, "database: ok=%v\n", r.DatabaseOK)
	if r.Detail != "" {
		fmt.Fprintf(w, "detail: %s\n", r.Detail)
	}
	return nil
}
