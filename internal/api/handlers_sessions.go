package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/autoform/internal/batch"
	autoerrors "github.com/randalmurphal/autoform/internal/errors"
	"github.com/randalmurphal/autoform/internal/session"
	"github.com/randalmurphal/autoform/internal/storage"
)

const (
	defaultLogLimit = 200
	maxLogLimit     = 1000
)

// StartSessionRequest is the body of POST /api/sessions.
type StartSessionRequest struct {
	SessionID string            `json:"session_id,omitempty"`
	ExamURL   string            `json:"exam_url"`
	ExamName  string            `json:"exam_name,omitempty"`
	UserData  map[string]string `json:"user_data"`
}

// ResumeRequest is the body of POST /api/sessions/{id}/resume.
type ResumeRequest struct {
	Value   string `json:"value"`
	FieldID string `json:"field_id,omitempty"`
}

// SessionView is the public projection of a session. User data is omitted.
type SessionView struct {
	SessionID     string                `json:"session_id"`
	ExamName      string                `json:"exam_name,omitempty"`
	TargetURL     string                `json:"target_url"`
	Phase         session.Phase         `json:"phase"`
	Status        session.Status        `json:"status"`
	Progress      int                   `json:"progress"`
	FilledFields  []string              `json:"filled_fields"`
	PendingInput  *session.PendingInput `json:"pending_input,omitempty"`
	Cycles        int                   `json:"cycles"`
	RetryCount    int                   `json:"retry_count"`
	LastError     string                `json:"last_error,omitempty"`
	ResultMessage string                `json:"result_message,omitempty"`
	Active        bool                  `json:"active"`
	StartedAt     time.Time             `json:"started_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func viewOf(s *session.State, active bool) SessionView {
	return SessionView{
		SessionID:     s.SessionID,
		ExamName:      s.ExamName,
		TargetURL:     s.TargetURL,
		Phase:         s.Phase,
		Status:        s.Status,
		Progress:      s.Progress,
		FilledFields:  s.FilledFields.Names(),
		PendingInput:  s.PendingInput,
		Cycles:        s.Cycles,
		RetryCount:    s.RetryCount,
		LastError:     s.LastError,
		ResultMessage: s.ResultMessage,
		Active:        active,
		StartedAt:     s.StartedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

// LogView is one audit log entry.
type LogView struct {
	EventType string    `json:"event_type"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message"`
	Node      string    `json:"node,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// startSession creates and launches a session, returning its id.
func (s *Server) startSession(req StartSessionRequest) (string, error) {
	return s.startSessionWith(req, nil)
}

// startSessionWith is startSession with a hook that runs once the id is
// known and before the first cycle can publish.
func (s *Server) startSessionWith(req StartSessionRequest, beforeStart func(id string)) (string, error) {
	if err := batch.Validate([]batch.Item{{ExamURL: req.ExamURL}}); err != nil {
		return "", err
	}
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	if beforeStart != nil {
		beforeStart(id)
	}
	st := s.manager.NewSession(id, req.ExamName, req.ExamURL, req.UserData)
	if _, err := s.manager.Start(st); err != nil {
		return "", err
	}
	s.logger.Info("session started", "session", id, "exam", req.ExamName)
	return id, nil
}

// handleStartSession launches a new session in the background.
// POST /api/sessions
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.startSession(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"session_id": id,
		"status":     string(session.StatusRunning),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := s.manager.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, viewOf(st, s.manager.Active(id)))
}

// handleResumeSession splices a human reply into a suspended session, or
// continues a paused one, in the background.
// POST /api/sessions/{id}/resume
func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req ResumeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.manager.Resume(r.Context(), id, req.Value, req.FieldID); err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"session_id": id,
		"status":     string(session.StatusRunning),
	})
}

// handleCancelSession pauses the session at its next cycle boundary.
// POST /api/sessions/{id}/cancel
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Cancel(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"session_id": id,
		"status":     "pausing",
	})
}

// handleSessionLogs returns the newest audit entries of a session.
// GET /api/sessions/{id}/logs?limit=200
func (s *Server) handleSessionLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLogLimit {
			s.writeError(w, autoerrors.ErrInvalidInput("limit must be a number between 1 and "+strconv.Itoa(maxLogLimit)))
			return
		}
		limit = n
	}

	entries, err := s.backend.ListLogs(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, autoerrors.ErrStorage("list logs", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, logViews(entries))
}

func logViews(entries []storage.LogEntry) []LogView {
	out := make([]LogView, 0, len(entries))
	for _, e := range entries {
		out = append(out, LogView{
			EventType: e.EventType,
			Level:     e.Level,
			Message:   e.Message,
			Node:      e.Node,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}
