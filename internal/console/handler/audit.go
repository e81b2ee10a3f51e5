package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xela07ax/aag-core/internal/console/service"
	"github.com/xela07ax/aag-core/internal/infra/auth"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetLogs возвращает список событий аудита с поддержкой фильтрации
// GET /v1/audit?session_id=...&event_type=...&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Извлекаем фильтры из Query-параметров
	sessionID := r.URL.Query().Get("session_id")
	eventType := r.URL.Query().Get("event_type")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := h.service.FetchLogs(r.Context(), claims.OrgID, sessionID, eventType, limit)
	if err != nil {
		http.Error(w, "Failed to fetch audit logs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}
