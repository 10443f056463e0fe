package api

import (
	"net/http"

	"github.com/randalmurphal/autoform/internal/batch"
	autoerrors "github.com/randalmurphal/autoform/internal/errors"
	"github.com/randalmurphal/autoform/internal/storage"
)

// CreateBatchRequest is the body of POST /api/batches.
type CreateBatchRequest struct {
	Items []batch.Item `json:"items"`
}

// StatsResponse is the response for GET /api/stats.
type StatsResponse struct {
	Global      storage.Stats   `json:"global"`
	SuccessRate float64         `json:"success_rate"`
	Exams       []storage.Stats `json:"exams"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	b, err := s.batches.Submit(req.Items)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, b)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.batches.List())
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.batches.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, b)
}

// handleCancelBatch stops a batch; the running session pauses and no further
// items start.
// POST /api/batches/{id}/cancel
func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.batches.Cancel(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"batch_id": id, "status": "cancelling"})
}

// handleStats returns global and per-exam run analytics.
// GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	global, err := s.backend.Stats(r.Context())
	if err != nil {
		s.writeError(w, autoerrors.ErrStorage("load stats", err))
		return
	}
	exams, err := s.backend.ExamStats(r.Context())
	if err != nil {
		s.writeError(w, autoerrors.ErrStorage("load exam stats", err))
		return
	}
	if exams == nil {
		exams = []storage.Stats{}
	}
	s.jsonResponse(w, http.StatusOK, StatsResponse{
		Global:      global,
		SuccessRate: global.SuccessRate(),
		Exams:       exams,
	})
}
