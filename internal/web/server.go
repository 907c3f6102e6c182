// Package web serves the amp-switch status page, its JSON form, a readiness
// check for supervisors and the Prometheus metrics endpoint.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/amp-switch/internal/status"
)

const readHeaderTimeout = 5 * time.Second

// Server serves status views of a Tracker over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
}

// New creates a Server listening on addr. Metrics come from the default
// Prometheus registry.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the route table. Only GET (and so HEAD) is accepted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.page)
	mux.HandleFunc("GET /index.html", s.page)
	mux.HandleFunc("GET /index.json", s.statusJSON)
	mux.HandleFunc("GET /readyz", s.ready)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// snapshot reads the tracker and marks the response as live data.
func (s *Server) snapshot(w http.ResponseWriter, contentType string) status.Snapshot {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-store")
	return s.tracker.Snapshot()
}

func (s *Server) page(w http.ResponseWriter, _ *http.Request) {
	renderHTML(w, s.snapshot(w, "text/html; charset=utf-8"))
}

func (s *Server) statusJSON(w http.ResponseWriter, _ *http.Request) {
	w.Write(status.FormatJSON(s.snapshot(w, "application/json")))
}

// ready answers 200 while the switch is being mirrored and 503 otherwise,
// with the lifecycle state as the body.
func (s *Server) ready(w http.ResponseWriter, _ *http.Request) {
	snap := s.snapshot(w, "text/plain; charset=utf-8")
	state := snap.State
	if state == "" {
		state = "UNINITIALIZED"
	}
	if state != "ACTIVE" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	fmt.Fprintln(w, state)
}
