// Package runtime реализует Decision Runtime: шину событий с ограниченной
// историей и маршрутизацию решений агентов по четырем полосам уверенности
// (auto-execute, notify-after, confirm, escalate).
package runtime

import (
	"context"
	"sync"

	"github.com/xela07ax/aag-core/internal/domain"
	"github.com/xela07ax/aag-core/internal/infra"
	"go.uber.org/zap"
)

// Типы системных событий рантайма.
const (
	EventTypeAgentStarted   = "agent_started"
	EventTypeAgentStopped   = "agent_stopped"
	EventTypeApprovalNeeded = "approval_needed"
	EventTypeActionExecuted = "action_executed"
	EventTypeAgentError     = "agent_error"
)

// Handler — подписчик шины. Паника хендлера ловится шиной и не прерывает
// доставку остальным подписчикам.
type Handler func(ctx context.Context, ev domain.Event)

type subscription struct {
	id string
	fn Handler
}

// Bus — pub/sub шина с append-only историей ограниченного размера.
// Publish синхронно обходит подписчиков типа события; сами агенты
// навешивают сюда быстрые функции-почтальоны (enqueue в mailbox),
// поэтому Publish не зависает на бизнес-логике.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]subscription
	history []domain.Event
	histCap int

	logger  *zap.Logger
	metrics *infra.Metrics
}

func NewBus(historyCap int, logger *zap.Logger, metrics *infra.Metrics) *Bus {
	if historyCap <= 0 {
		historyCap = 10000
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Bus{
		subs:    make(map[string][]subscription),
		histCap: historyCap,
		logger:  logger.Named("event-bus"),
		metrics: metrics,
	}
}

// Publish раскладывает событие по истории и подписчикам. События
// неизменяемы после публикации; конверт дозаполняется до раздачи.
func (b *Bus) Publish(ctx context.Context, ev domain.Event) {
	if ev.EventID == "" || ev.Timestamp.IsZero() {
		filled := domain.NewEvent(ev.Type, ev.Source, ev.Payload)
		if ev.EventID != "" {
			filled.EventID = ev.EventID
		}
		if !ev.Timestamp.IsZero() {
			filled.Timestamp = ev.Timestamp
		}
		filled.CorrelationID = ev.CorrelationID
		filled.Confidence = ev.Confidence
		ev = filled
	}

	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.histCap {
		// Вытесняем самые старые сверх лимита
		b.history = b.history[len(b.history)-b.histCap:]
	}
	subs := append([]subscription(nil), b.subs[ev.Type]...)
	b.mu.Unlock()

	b.metrics.BusEventsTotal.WithLabelValues(ev.Type).Inc()

	for _, sub := range subs {
		b.deliver(ctx, sub, ev)
	}
}

// deliver изолирует панику одного подписчика от остальных.
func (b *Bus) deliver(ctx context.Context, sub subscription, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				zap.String("subscriber", sub.id),
				zap.String("event_type", ev.Type),
				zap.Any("panic", r))
		}
	}()
	sub.fn(ctx, ev)
}

// Subscribe регистрирует подписчика на тип события.
func (b *Bus) Subscribe(eventType, subscriberID string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], subscription{id: subscriberID, fn: fn})
}

// Unsubscribe снимает подписчика со всех слотов данного типа.
func (b *Bus) Unsubscribe(eventType, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[eventType]
	next := list[:0]
	for _, s := range list {
		if s.id != subscriberID {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(b.subs, eventType)
	} else {
		b.subs[eventType] = next
	}
}

// GetRecentEvents возвращает последние limit событий (read-only запрос).
func (b *Bus) GetRecentEvents(limit int) []domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]domain.Event, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

// GetCorrelatedEvents возвращает причинную цепочку по correlation_id.
func (b *Bus) GetCorrelatedEvents(correlationID string) []domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []domain.Event
	for _, ev := range b.history {
		if ev.CorrelationID == correlationID {
			out = append(out, ev)
		}
	}
	return out
}
