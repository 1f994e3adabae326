package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"git.home.luguber.info/inful/relbuilder/internal/logfields"
)

// httpServer exposes /metrics, /healthz and /runs on the daemon listen
// address. The listener is capped so a scrape storm cannot starve the
// release pipeline.
type httpServer struct {
	daemon *Daemon
	server *http.Server
}

func newHTTPServer(d *Daemon) *httpServer {
	return &httpServer{daemon: d}
}

// Start binds the listener and serves in the background.
func (s *httpServer) Start(addr string, maxConns int) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, maxConns)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.daemon.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/runs", s.handleRuns)

	s.server = &http.Server{Handler: mux, ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second, IdleTimeout: 120 * time.Second}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", logfields.Error(err))
		}
	}()

	slog.Info("HTTP server started", slog.String("addr", addr))
	return nil
}

// Stop drains in-flight requests.
func (s *httpServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *httpServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleRuns returns recent release runs as JSON.
func (s *httpServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.daemon.store.Recent(r.Context(), 50)
	if err != nil {
		http.Error(w, "run store unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(runs)
}
