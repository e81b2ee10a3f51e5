package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/aag-core/internal/domain"
	"github.com/xela07ax/aag-core/internal/infra/auth"
)

// enqueueRequest — тело POST /v1/sessions/{id}/commands.
// Confirm=true для ранее заблокированной команды — путь подтверждения.
type enqueueRequest struct {
	domain.CommandRequest
	Confirm     bool   `json:"confirm,omitempty"`
	ConfirmedBy string `json:"confirmed_by,omitempty"`
	WorkflowID  string `json:"workflow_id,omitempty"`
}

type createSessionRequest struct {
	APItemID string         `json:"ap_item_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type dispatchMacroRequest struct {
	Macro         string         `json:"macro"`
	Params        map[string]any `json:"params,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	WorkflowID    string         `json:"workflow_id,omitempty"`
	DryRun        bool           `json:"dry_run,omitempty"`
}

type submitResultRequest struct {
	Status domain.CommandStatus `json:"status"`
	Result map[string]any       `json:"result,omitempty"`
}

type confirmRequest struct {
	Reviewer string `json:"reviewer,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := s.queue.CreateSession(r.Context(), claims.OrgID, req.APItemID, claims.UserID, req.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.queue.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Tool == "" {
		http.Error(w, "tool_name is required", http.StatusBadRequest)
		return
	}

	cmd, err := s.queue.Enqueue(r.Context(), sessionID, req.CommandRequest, claims.UserID, req.Confirm, req.ConfirmedBy, claims.Role, req.WorkflowID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cmd)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	summary, err := s.queue.Preview(r.Context(), sessionID, req.CommandRequest, claims.UserID, claims.Role, req.WorkflowID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")
	commandID := chi.URLParam(r, "commandID")

	var req confirmRequest
	// Тело опционально: по умолчанию ревьюер — владелец токена
	_ = json.NewDecoder(r.Body).Decode(&req)
	reviewer := req.Reviewer
	if reviewer == "" {
		reviewer = claims.UserID
	}

	cmd, err := s.queue.Confirm(r.Context(), sessionID, commandID, reviewer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cmd)
}

func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")
	commandID := chi.URLParam(r, "commandID")

	var req submitResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cmd, err := s.queue.SubmitResult(r.Context(), sessionID, commandID, req.Status, req.Result, claims.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cmd)
}

func (s *Server) handleDispatchMacro(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	var req dispatchMacroRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Macro == "" {
		http.Error(w, "macro is required", http.StatusBadRequest)
		return
	}

	res, err := s.queue.DispatchMacro(r.Context(), sessionID, req.Macro, claims.UserID, claims.Role, req.WorkflowID, req.CorrelationID, req.Params, req.DryRun)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tools.List())
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	if corr := r.URL.Query().Get("correlation_id"); corr != "" {
		s.writeJSON(w, http.StatusOK, s.runtime.Bus().GetCorrelatedEvents(corr))
		return
	}
	s.writeJSON(w, http.StatusOK, s.runtime.Bus().GetRecentEvents(limit))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", zap.Error(err))
	}
}

// writeError переводит доменные ошибки в HTTP-статусы.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrCommandNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrMacroNotSupported),
		errors.Is(err, domain.ErrUnsupportedTool):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyTerminal),
		errors.Is(err, domain.ErrStaleTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error("request failed", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
