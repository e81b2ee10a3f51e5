package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event — неизменяемый конверт сигнала на шине Decision Runtime.
// Payload намеренно нетипизирован (map[string]any): ядро читает только
// перечисленные здесь поля, остальное — сквозные данные бизнес-агентов.
type Event struct {
	Type          string         `json:"event_type"`
	Payload       map[string]any `json:"payload"`
	Source        string         `json:"source"`
	Timestamp     time.Time      `json:"timestamp"`
	EventID       string         `json:"event_id"`
	CorrelationID string         `json:"correlation_id,omitempty"` // Связь причинной цепочки
	Confidence    float64        `json:"confidence,omitempty"`
}

// NewEvent проставляет ID и таймстемп, чтобы продюсерам не приходилось
// помнить об инвариантах конверта.
func NewEvent(eventType, source string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		Type:      eventType,
		Payload:   payload,
		Source:    source,
		Timestamp: time.Now(),
		EventID:   uuid.New().String(),
	}
}

// ConfidenceLevel — деривативная шкала уверенности решения.
type ConfidenceLevel string

const (
	ConfidenceAutoExecute ConfidenceLevel = "AUTO_EXECUTE"
	ConfidenceHigh        ConfidenceLevel = "HIGH"
	ConfidenceMedium      ConfidenceLevel = "MEDIUM"
	ConfidenceLow         ConfidenceLevel = "LOW"
	ConfidenceUncertain   ConfidenceLevel = "UNCERTAIN"
)

// AgentDecision — результат обработки события агентом. Создается один раз,
// никогда не мутирует, потребляется единственным шагом маршрутизации.
type AgentDecision struct {
	Action            string         `json:"action"`
	Confidence        float64        `json:"confidence"` // 0.0–1.0
	Reasoning         string         `json:"reasoning"`
	ShouldAutoExecute bool           `json:"should_auto_execute"`
	RequiresApproval  bool           `json:"requires_approval"`
	EscalateTo        string         `json:"escalate_to,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
}

// Level — чистая функция от Confidence.
func (d AgentDecision) Level() ConfidenceLevel {
	switch {
	case d.Confidence >= 0.95:
		return ConfidenceAutoExecute
	case d.Confidence >= 0.85:
		return ConfidenceHigh
	case d.Confidence >= 0.70:
		return ConfidenceMedium
	case d.Confidence >= 0.50:
		return ConfidenceLow
	default:
		return ConfidenceUncertain
	}
}

// Thresholds — пороги маршрутизации агента. Мутабельная конфигурация,
// применяется рантаймом горячо (без перезапуска агента).
type Thresholds struct {
	AutoExecute     float64 `json:"auto_execute_threshold" mapstructure:"auto_execute_threshold"`
	NotifyAfter     float64 `json:"notify_after_threshold" mapstructure:"notify_after_threshold"`
	AskConfirmation float64 `json:"ask_confirmation_threshold" mapstructure:"ask_confirmation_threshold"`
}

// DefaultThresholds — консервативные значения по умолчанию.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoExecute:     0.95,
		NotifyAfter:     0.85,
		AskConfirmation: 0.50,
	}
}
