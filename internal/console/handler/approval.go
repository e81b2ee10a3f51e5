package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/aag-core/internal/infra/auth"
	"github.com/xela07ax/aag-core/internal/repository/postgres"
)

// ApprovalService Описываем, что нам нужно от сервиса
type ApprovalService interface {
	ListPending(ctx context.Context, orgID string, limit int) ([]postgres.BlockedCommand, error)
	Decide(ctx context.Context, sessionID, commandID string, approved bool, reviewerID string) error
}

type ApprovalHandler struct {
	service ApprovalService
}

func NewApprovalHandler(s ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{service: s}
}

// List возвращает очередь решений тенанта оператора.
// GET /v1/approvals?limit=...
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.service.ListPending(r.Context(), claims.OrgID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

type DecideRequest struct {
	SessionID string `json:"session_id"`
	Approved  bool   `json:"approved"`
}

// Decide фиксирует решение оператора и транслирует его шлюзам.
// POST /v1/approvals/{commandID}/decide
func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	commandID := chi.URLParam(r, "commandID")

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	// Ревьюер — авторизованный оператор из токена (Accountability)
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	err := h.service.Decide(r.Context(), req.SessionID, commandID, req.Approved, claims.UserID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
