// Package debugsrv serves a tiny read-only HTTP status endpoint over the
// engine's diagnostics (spec's Non-goals exclude any network-facing client
// protocol; this is observational only, not a file system protocol).
package debugsrv

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"pintosfs/internal/enginestats"
)

// Server is a minimal HTTP server exposing /stats, /events, and /healthz.
type Server struct {
	hub    *enginestats.Hub
	events *enginestats.EventLog
	srv    *http.Server
}

// New builds a Server bound to addr. It does not start listening until
// Start is called.
func New(addr string, hub *enginestats.Hub, events *enginestats.EventLog) *Server {
	s := &Server{hub: hub, events: events}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/events", s.handleEvents)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving in a background goroutine. Errors after startup
// (other than a clean Shutdown) are silently dropped, matching the
// diagnostics endpoint's "observational only" contract: its failure must
// never affect the core engine.
func (s *Server) Start() {
	go func() {
		_ = s.srv.ListenAndServe()
	}()
}

// Shutdown stops the server, waiting up to 5 seconds for in-flight
// requests to finish.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.hub.Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.events.Recent(limit))
}
