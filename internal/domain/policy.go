package domain

import "time"

// PolicyConfig — декларативный набор правил тенанта.
// Set-поля сериализуются списками, но семантика — множества.
type PolicyConfig struct {
	AllowedDomains         []string                  `json:"allowed_domains,omitempty"`
	BlockedTools           []string                  `json:"blocked_tools,omitempty"`
	RequireConfirmationFor []string                  `json:"require_confirmation_for,omitempty"`
	AutoApproveReadOnly    bool                      `json:"auto_approve_read_only"`
	RoleOverrides          map[string]PolicyOverride `json:"role_overrides,omitempty"`
	WorkflowOverrides      map[string]PolicyOverride `json:"workflow_overrides,omitempty"`
}

// PolicyOverride — частичная политика, привязанная к роли или workflow.
// Set-поля при мерже объединяются (union), чтобы override мог только
// добавлять разрешения/ограничения, но не ронять базовые.
// AutoApproveReadOnly — указатель: nil означает «не трогать базовое значение».
type PolicyOverride struct {
	AllowedDomains         []string `json:"allowed_domains,omitempty"`
	BlockedTools           []string `json:"blocked_tools,omitempty"`
	RequireConfirmationFor []string `json:"require_confirmation_for,omitempty"`
	AutoApproveReadOnly    *bool    `json:"auto_approve_read_only,omitempty"`
}

// Policy — запись тенанта. Мутируется только через явный Upsert
// (last-write-wins), версионируется по UpdatedAt.
type Policy struct {
	OrganizationID string       `json:"organization_id"`
	Enabled        bool         `json:"enabled"`
	Config         PolicyConfig `json:"config"`
	UpdatedBy      string       `json:"updated_by,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
