package audit

import "time"

// Типы актора, от имени которого записано событие.
const (
	ActorTypeAgent  = "agent"
	ActorTypeHuman  = "human"
	ActorTypeSystem = "system"
)

// Типы событий, которые пишет ядро.
const (
	EventCommandEnqueued  = "browser_command_enqueued"
	EventCommandConfirmed = "browser_command_confirmed"
	EventCommandResult    = "browser_command_result"
	EventMacroDispatched  = "macro_dispatched"
)

// AuditEvent — одна строка системы записи «что произошло и почему».
// Append-only: события никогда не мутируются и не удаляются.
type AuditEvent struct {
	ID             string         `json:"id"`              // UUID события
	OrganizationID string         `json:"organization_id"` // Тенант
	APItemID       string         `json:"ap_item_id"`      // Владеющая бизнес-сущность
	SessionID      string         `json:"session_id,omitempty"`
	EventType      string         `json:"event_type"`
	ActorType      string         `json:"actor_type"` // agent | human | system
	ActorID        string         `json:"actor_id"`
	Reason         string         `json:"reason,omitempty"` // Машиночитаемое объяснение (для denied/blocked обязательно)
	Metadata       map[string]any `json:"metadata,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"` // Дедупликация повторных записей
	Timestamp      time.Time      `json:"timestamp"`
}
