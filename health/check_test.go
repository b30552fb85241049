package health

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lifeexplorer230/tg-news-bot-sub000/storage"
)

func testPaths(t *testing.T) (heartbeat, db string) {
	var dir = t.TempDir()
	heartbeat = filepath.Join(dir, "listener.heartbeat")
	db = filepath.Join(dir, "news.db")

	var store, err = storage.Open(db, storage.Options{})
	require.NoError(t, err)
	require.NoError(t, store.Close())
	return heartbeat, db
}

func touch(t *testing.T, path string, mtime time.Time) {
	var f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestCheckHealthy(t *testing.T) {
	var heartbeat, db = testPaths(t)
	touch(t, heartbeat, time.Now())

	var rep = NewChecker(heartbeat, 3*time.Minute, db).Check(context.Background())
	require.Equal(t, StateHealthy, rep.State)
	require.True(t, rep.HeartbeatOK)
	require.True(t, rep.DatabaseOK)
	require.Zero(t, rep.State.ExitCode())
}

func TestCheckStaleHeartbeatDegraded(t *testing.T) {
	var heartbeat, db = testPaths(t)
	touch(t, heartbeat, time.Now().Add(-10*time.Minute))

	var rep = NewChecker(heartbeat, 3*time.Minute, db).Check(context.Background())
	require.Equal(t, StateDegraded, rep.State)
	require.Equal(t, 1, rep.State.ExitCode())
	require.Contains(t, rep.Detail, "stale")
}

func TestCheckMissingHeartbeatUnhealthy(t *testing.T) {
	var heartbeat, db = testPaths(t)

	var rep = NewChecker(heartbeat, 3*time.Minute, db).Check(context.Background())
	require.Equal(t, StateUnhealthy, rep.State)
	require.Equal(t, 2, rep.State.ExitCode())
}

func TestCheckMissingDatabaseUnhealthy(t *testing.T) {
	var heartbeat, _ = testPaths(t)
	touch(t, heartbeat, time.Now())

	var rep = NewChecker(heartbeat, 3*time.Minute, filepath.Join(t.TempDir(), "missing", "db.sqlite")).Check(context.Background())
	require.Equal(t, StateUnhealthy, rep.State)
	require.True(t, rep.HeartbeatOK)
	require.False(t, rep.DatabaseOK)
}

func TestRenderJSON(t *testing.T) {
	var rep = Report{State: StateDegraded, Status: "degraded", HeartbeatAge: time.Minute}
	var buf bytes.Buffer
	require.NoError(t, rep.Render(&buf, true, false))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "degraded", decoded["status"])
}

func TestRenderQuiet(t *testing.T) {
	var rep = Report{State: StateHealthy, Status: "healthy"}
	var buf bytes.Buffer
	require.NoError(t, rep.Render(&buf, false, true))
	require.Equal(t, "healthy\n", buf.String())
}

func TestHealthzEndpoint(t *testing.T) {
	var heartbeat, db = testPaths(t)
	touch(t, heartbeat, time.Now())

	var srv = NewServer(NewChecker(heartbeat, 3*time.Minute, db), "127.0.0.1", 0)
	var rec = httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Stale heartbeat flips the endpoint to 503.
	touch(t, heartbeat, time.Now().Add(-time.Hour))
	rec = httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusReporterDelivery(t *testing.T) {
	var _, db = testPaths(t)
	var store, err = storage.Open(db, storage.Options{})
	require.NoError(t, err)
	defer store.Close()

	var got struct {
		path string
		chat string
	}
	var ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		require.NoError(t, r.ParseForm())
		got.chat = r.FormValue("chat_id")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	var rep = NewStatusReporter("token123", "42", store, time.UTC, "prod")
	rep.baseURL = ts.URL

	require.NoError(t, rep.Send(context.Background()))
	require.Equal(t, "/bottoken123/sendMessage", got.path)
	require.Equal(t, "42", got.chat)
}
