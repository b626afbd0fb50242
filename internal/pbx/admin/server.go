// Package admin is the PBX's read-only operator surface (SPEC_FULL.md
// §4.9): health and registry-stats introspection over HTTP, entirely
// separate from the TU wire protocol. Routed with go-chi/chi, in the
// shape the pack's flowpbx repository wires its own admin/API server
// (request-id + panic-recovery middleware around a small route table).
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sebas/pbx/internal/pbx"
)

// Registry is the subset of *pbx.Registry the admin API reads.
type Registry interface {
	Active() int
	Capacity() int
	Quiescent() bool
	Extensions() []pbx.Snapshot
}

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
	registry   Registry
	startedAt  time.Time
}

// NewServer builds the admin server; it does not start listening until
// Start is called.
func NewServer(addr string, registry Registry) *Server {
	s := &Server{registry: registry, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/api/v1/stats", s.handleStats)
	r.Get("/api/v1/extensions", s.handleExtensions)

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start begins serving in the background. It returns immediately; Serve
// errors other than http.ErrServerClosed are delivered on errc.
func (s *Server) Start(errc chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
}

// Shutdown gracefully stops the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

type statsResponse struct {
	Active    int  `json:"active"`
	Capacity  int  `json:"capacity"`
	Quiescent bool `json:"quiescent"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Active:    s.registry.Active(),
		Capacity:  s.registry.Capacity(),
		Quiescent: s.registry.Quiescent(),
	})
}

type extensionResponse struct {
	Extension     int    `json:"extension"`
	State         string `json:"state"`
	PeerExtension *int   `json:"peer_extension,omitempty"`
}

func (s *Server) handleExtensions(w http.ResponseWriter, _ *http.Request) {
	snaps := s.registry.Extensions()
	out := make([]extensionResponse, 0, len(snaps))
	for _, snap := range snaps {
		er := extensionResponse{Extension: snap.Extension, State: snap.State.String()}
		if snap.PeerExtension >= 0 {
			peer := snap.PeerExtension
			er.PeerExtension = &peer
		}
		out = append(out, er)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
