package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Server exposes /healthz and /metrics for external probes.
type Server struct {
	checker *Checker
	srv     *http.Server
}

func NewServer(checker *Checker, host string, port int) *Server {
	var s = &Server{checker: checker}
	var mux = http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	s.srv = &http.Server{
		Addr:              net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	var errCh = make(chan error, 1)
	go func() {
		log.WithField("addr", s.srv.Addr).Info("healthcheck server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		var shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// handleHealthz returns 200 for healthy, 503 otherwise, with the full
// report as JSON either way.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	var rep = s.checker.Check(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if rep.State != StateHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		log.WithField("error", err).Warn("healthz encode failed")
	}
}
