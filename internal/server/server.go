// Package server implements the read-mostly reporting HTTP surface:
// leaderboard, model, snapshot, checkpoint, and Merkle-proof reads, plus
// the handful of authenticated write endpoints that advance a Checkpoint's
// settlement status or kick off a backfill.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/predictcoord/coordinator/internal/feed"
	"github.com/predictcoord/coordinator/internal/store"
)

// Config configures auth and the feed registry used by the backfill trigger.
type Config struct {
	APIKey            string
	ReadAuth          bool
	PublicPrefixes    []string
	DataDir           string
	FeedSourceName    string
	FeedRegistry      *feed.Registry
}

// Server is the coordinator's reporting HTTP server.
type Server struct {
	store      *store.Store
	cfg        Config
	httpServer *http.Server
	router     chi.Router
	log        *slog.Logger
}

// New creates a Server bound to addr.
func New(s *store.Store, cfg Config, addr string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{store: s, cfg: cfg, log: log}
	srv.router = srv.buildRouter()
	srv.httpServer = &http.Server{Addr: addr, Handler: srv.router}
	return srv
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.structuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.authMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promHandler())

	r.Route("/reports", func(r chi.Router) {
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/models", s.handleModels)
		r.Get("/snapshots", s.handleSnapshots)
		r.Get("/checkpoints", s.handleCheckpoints)
		r.Get("/checkpoints/{id}/emission", s.handleCheckpointEmission)
		r.Post("/checkpoints/{id}/confirm", s.handleCheckpointConfirm)
		r.Patch("/checkpoints/{id}/status", s.handleCheckpointStatus)
		r.Get("/merkle/cycles", s.handleMerkleCycles)
		r.Get("/merkle/proof", s.handleMerkleProof)
		r.Post("/backfill", s.handleBackfillTrigger)
	})

	r.Route("/data/backfill", func(r chi.Router) {
		r.Get("/index", s.handleBackfillIndex)
		r.Get("/*", s.handleBackfillFile)
	})

	return r
}

// Start begins listening; it blocks until the server is shut down.
func (s *Server) Start() error {
	s.log.Info("http server starting", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) structuredLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration_ms", time.Since(start).Milliseconds())
	})
}
