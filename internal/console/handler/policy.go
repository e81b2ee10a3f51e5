package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/aag-core/internal/console/service"
	"github.com/xela07ax/aag-core/internal/domain"
	"github.com/xela07ax/aag-core/internal/infra/auth"
)

type PolicyHandler struct {
	service *service.PolicyService
}

func NewPolicyHandler(s *service.PolicyService) *PolicyHandler {
	return &PolicyHandler{service: s}
}

// Get возвращает политику тенанта.
// GET /v1/policies/{orgID}
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if orgID == "" {
		http.Error(w, "Organization ID is required", http.StatusBadRequest)
		return
	}

	policy, err := h.service.Get(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, domain.ErrPolicyNotFound) {
			http.Error(w, "Policy not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to retrieve policy: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(policy); err != nil {
		http.Error(w, "Encoding error", http.StatusInternalServerError)
	}
}

// List возвращает все политики для админки
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	policies, err := h.service.GetAll(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch policies", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(policies)
}

// Upsert создает или заменяет политику тенанта и инициирует инвалидацию кэша
// PUT /v1/policies/{orgID}
func (h *PolicyHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	var p domain.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	p.OrganizationID = orgID

	// Автор изменения — владелец токена
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		p.UpdatedBy = claims.UserID
	}

	if err := h.service.Upsert(r.Context(), &p); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
