package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Статусы State Machine команды
type CommandStatus string

const (
	CommandQueued       CommandStatus = "queued"
	CommandBlocked      CommandStatus = "blocked_for_approval"
	CommandDeniedPolicy CommandStatus = "denied_policy" // Терминальный, выставляется PDP
	CommandCompleted    CommandStatus = "completed"
	CommandFailed       CommandStatus = "failed"
)

var (
	ErrInvalidTransition = errors.New("invalid command status transition")
	ErrAlreadyTerminal   = errors.New("command already in terminal state")
)

// IsTerminal — терминальные статусы неизменяемы (at-most-once).
func (s CommandStatus) IsTerminal() bool {
	return s == CommandCompleted || s == CommandFailed || s == CommandDeniedPolicy
}

// CommandRequest — то, что агент/макрос подает на вход очереди.
// Params нетипизированы: ядро читает только target/url, остальное
// транслируется исполнителю как есть.
type CommandRequest struct {
	CommandID      string         `json:"command_id,omitempty"`
	Tool           string         `json:"tool_name"`
	Target         string         `json:"target,omitempty"` // Явный URL цели (приоритетнее params["url"])
	Params         map[string]any `json:"params,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	DependsOn      []string       `json:"depends_on,omitempty"` // Ребра DAG макроса (advisory для исполнителя)
}

// TargetURL достает URL цели: явный Target, иначе params["url"].
func (r CommandRequest) TargetURL() string {
	if r.Target != "" {
		return r.Target
	}
	if r.Params != nil {
		if u, ok := r.Params["url"].(string); ok {
			return u
		}
	}
	return ""
}

// Command — одна авторизованная, идемпотентная единица исполнения.
type Command struct {
	SessionID            string         `json:"session_id"`
	CommandID            string         `json:"command_id"`
	Tool                 string         `json:"tool_name"`
	Status               CommandStatus  `json:"status"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	ApprovedBy           *string        `json:"approved_by,omitempty"`
	ApprovedAt           *time.Time     `json:"approved_at,omitempty"`
	PolicyReason         string         `json:"policy_reason,omitempty"`
	RequestPayload       map[string]any `json:"request_payload,omitempty"`
	ResultPayload        map[string]any `json:"result_payload,omitempty"`
	IdempotencyKey       string         `json:"idempotency_key"`
	CorrelationID        string         `json:"correlation_id,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// CanTransitionTo проверяет правила конечного автомата:
// queued -> {completed, failed}; blocked_for_approval -> queued;
// терминальные статусы неизменяемы.
func (c *Command) CanTransitionTo(next CommandStatus) error {
	if c.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	switch c.Status {
	case CommandQueued:
		if next == CommandCompleted || next == CommandFailed {
			return nil
		}
	case CommandBlocked:
		if next == CommandQueued {
			return nil
		}
	}
	return ErrInvalidTransition
}

// DeriveIdempotencyKey — ключ дедупликации, когда вызывающий его не дал.
// Контентный хэш (session_id, command_id): повтор той же пары — no-op.
func DeriveIdempotencyKey(sessionID, commandID string) string {
	sum := sha256.Sum256([]byte(sessionID + ":" + commandID))
	return hex.EncodeToString(sum[:16])
}
