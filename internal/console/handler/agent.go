package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/aag-core/internal/console/service"
	"github.com/xela07ax/aag-core/internal/infra/auth"
)

type AgentHandler struct {
	service *service.AgentService
}

func NewAgentHandler(s *service.AgentService) *AgentHandler {
	return &AgentHandler{service: s}
}

// Block — мгновенная остановка агента рантайма (Kill-switch).
// POST /v1/agents/{name}/block
func (h *AgentHandler) Block(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		http.Error(w, "Agent name is required", http.StatusBadRequest)
		return
	}

	if err := h.service.KillAgent(r.Context(), name); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetStats возвращает сводку по тенанту оператора для дашборда.
// GET /api/v1/dashboard/stats
func (h *AgentHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	stats, err := h.service.GetGlobalStats(r.Context(), claims.OrgID)
	if err != nil {
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
