package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/predictcoord/coordinator/internal/checkpoint"
	"github.com/predictcoord/coordinator/internal/feed"
	"github.com/predictcoord/coordinator/internal/store"
)

func promHandler() http.Handler { return promhttp.Handler() }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := s.store.LatestLeaderboard()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	if lb == nil {
		writeJSON(w, http.StatusOK, store.Leaderboard{})
		return
	}
	if r.URL.Query().Get("include_ensembles") != "true" {
		filtered := make([]store.LeaderboardEntry, 0, len(lb.Entries))
		for _, e := range lb.Entries {
			if !store.IsEnsembleModelID(e.ModelID) {
				filtered = append(filtered, e)
			}
		}
		lb.Entries = filtered
	}
	writeJSON(w, http.StatusOK, lb)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.ListModels()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SnapshotFilter{
		ModelID: q.Get("model_id"),
		Cursor:  q.Get("cursor"),
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.PeriodAfter = &t
		}
	}
	if until := q.Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			filter.PeriodBefore = &t
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}
	result, err := s.store.SearchSnapshots(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	cps, err := s.store.CheckpointsPage(q.Get("cursor"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cps)
}

func (s *Server) handleCheckpointEmission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cp, err := s.store.GetCheckpoint(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cp.Emission)
}

func (s *Server) handleCheckpointConfirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		TxHash string `json:"tx_hash"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if strings.TrimSpace(body.TxHash) == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "tx_hash is required")
		return
	}
	if err := s.store.SubmitCheckpoint(id, body.TxHash); err != nil {
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": store.CheckpointSubmitted})
}

func (s *Server) handleCheckpointStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	var err error
	switch body.Status {
	case store.CheckpointClaimable:
		err = s.store.ConfirmCheckpoint(id)
	case store.CheckpointPaid:
		err = s.store.MarkCheckpointPaid(id)
	default:
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "unsupported target status: "+body.Status)
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": body.Status})
}

func (s *Server) handleMerkleCycles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	cycles, err := s.store.MerkleCyclesPage(q.Get("cursor"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cycles)
}

func (s *Server) handleMerkleProof(w http.ResponseWriter, r *http.Request) {
	snapshotID := r.URL.Query().Get("snapshot_id")
	if snapshotID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "snapshot_id is required")
		return
	}
	proof, err := checkpoint.ProofFor(s.store, snapshotID)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

func (s *Server) handleBackfillTrigger(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Source      string `json:"source"`
		Subject     string `json:"subject"`
		Kind        string `json:"kind"`
		Granularity string `json:"granularity"`
		Start       time.Time `json:"start"`
		End         time.Time `json:"end"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if s.cfg.FeedRegistry == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "no feed registry configured")
		return
	}
	source := body.Source
	if source == "" {
		source = s.cfg.FeedSourceName
	}
	scope := store.FeedScope{Source: source, Subject: body.Subject, Kind: body.Kind, Granularity: body.Granularity}

	runner := feed.NewBackfillRunner(s.store, s.cfg.DataDir, s.log)
	job, err := runner.Start(r.Context(), s.cfg.FeedRegistry, source, scope, body.Start, body.End)
	if err != nil {
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleBackfillIndex(w http.ResponseWriter, r *http.Request) {
	var files []string
	root := s.cfg.DataDir
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".parquet") {
			rel, relErr := filepath.Rel(root, path)
			if relErr == nil {
				files = append(files, rel)
			}
		}
		return nil
	})
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (s *Server) handleBackfillFile(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	root := filepath.Clean(s.cfg.DataDir)
	path := filepath.Join(root, filepath.Clean("/"+rel))
	if !strings.HasPrefix(path, root) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid path")
		return
	}
	http.ServeFile(w, r, path)
}
