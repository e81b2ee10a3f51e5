package domain

import "time"

// Состояние сессии — всегда деривативно от статусов ее команд,
// никогда не выставляется независимо.
type SessionState string

const (
	SessionRunning SessionState = "running"
	SessionBlocked SessionState = "blocked_for_approval"
)

// Session владеет командами одного рабочего контекста
// (обычно одна позиция AP: инвойс, заявка, сверка).
type Session struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	APItemID       string         `json:"ap_item_id"` // ID владеющей бизнес-сущности
	State          SessionState   `json:"state"`
	CreatedBy      string         `json:"created_by"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// DeriveSessionState — чистая функция: сессия заблокирована тогда и только
// тогда, когда хотя бы одна ее команда ждет подтверждения.
func DeriveSessionState(commands []Command) SessionState {
	for _, c := range commands {
		if c.Status == CommandBlocked {
			return SessionBlocked
		}
	}
	return SessionRunning
}
