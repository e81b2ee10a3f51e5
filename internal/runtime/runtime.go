package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/xela07ax/aag-core/internal/domain"
	"github.com/xela07ax/aag-core/internal/infra"
	"go.uber.org/zap"
)

// Agent — бизнес-логика, подключаемая к рантайму. Реализации живут
// снаружи ядра (reconciliation, inbox watcher и т.п.); рантайм лишь
// гарантирует универсальный контракт эскалации.
type Agent interface {
	Name() string
	SubscribedEventTypes() []string
	DefaultThresholds() domain.Thresholds
	// HandleEvent возвращает (nil, nil), если действий не требуется.
	HandleEvent(ctx context.Context, ev domain.Event) (*domain.AgentDecision, error)
	ExecuteDecision(ctx context.Context, ev domain.Event, d domain.AgentDecision) error
}

// Полосы маршрутизации (для метрик и payload событий).
const (
	laneAutoExecute = "auto_execute"
	laneNotifyAfter = "notify_after"
	laneConfirm     = "confirm"
	laneEscalate    = "escalate"
)

// registration — состояние одного агента внутри рантайма.
type registration struct {
	agent      Agent
	thresholds domain.Thresholds
	mailbox    chan domain.Event
	cancel     context.CancelFunc
	done       chan struct{}
	running    bool
}

// Runtime управляет жизненным циклом агентов: подписки на Start(),
// снятие на Stop(), mailbox-горутина на агента. Почтовый ящик дает
// две гарантии планирования: события одного агента обрабатываются
// в порядке публикации, разные агенты работают параллельно.
type Runtime struct {
	mu     sync.RWMutex
	bus    *Bus
	agents map[string]*registration

	mailboxSize int
	logger      *zap.Logger
	metrics     *infra.Metrics
}

func New(bus *Bus, mailboxSize int, logger *zap.Logger, metrics *infra.Metrics) *Runtime {
	if mailboxSize <= 0 {
		mailboxSize = 256
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Runtime{
		bus:         bus,
		agents:      make(map[string]*registration),
		mailboxSize: mailboxSize,
		logger:      logger.Named("agent-runtime"),
		metrics:     metrics,
	}
}

// Bus отдает шину рантайма (для продюсеров входных сигналов).
func (r *Runtime) Bus() *Bus { return r.bus }

// Register добавляет агента без запуска. Имя уникально.
func (r *Runtime) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[a.Name()]; ok {
		return fmt.Errorf("runtime: agent %q already registered", a.Name())
	}
	r.agents[a.Name()] = &registration{
		agent:      a,
		thresholds: a.DefaultThresholds(),
	}
	return nil
}

// StartAgent активирует подписки агента и запускает его mailbox-воркер.
func (r *Runtime) StartAgent(ctx context.Context, name string) error {
	r.mu.Lock()
	reg, ok := r.agents[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("runtime: agent %q is not registered", name)
	}
	if reg.running {
		r.mu.Unlock()
		return nil
	}

	agentCtx, cancel := context.WithCancel(ctx)
	reg.mailbox = make(chan domain.Event, r.mailboxSize)
	reg.cancel = cancel
	reg.done = make(chan struct{})
	reg.running = true

	for _, et := range reg.agent.SubscribedEventTypes() {
		mailbox := reg.mailbox
		r.bus.Subscribe(et, name, func(_ context.Context, ev domain.Event) {
			// Блокирующая отправка сохраняет порядок публикации;
			// отмена контекста агента снимает ожидание
			select {
			case mailbox <- ev:
			case <-agentCtx.Done():
			}
		})
	}
	r.mu.Unlock()

	go r.work(agentCtx, reg)

	r.logger.Info("agent started", zap.String("agent", name))
	r.bus.Publish(ctx, domain.NewEvent(EventTypeAgentStarted, "runtime", map[string]any{
		"agent": name,
	}))
	return nil
}

// StopAgent снимает подписки, публикует agent_stopped и дожидается воркера.
func (r *Runtime) StopAgent(ctx context.Context, name string) error {
	r.mu.Lock()
	reg, ok := r.agents[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("runtime: agent %q is not registered", name)
	}
	if !reg.running {
		r.mu.Unlock()
		return nil
	}
	for _, et := range reg.agent.SubscribedEventTypes() {
		r.bus.Unsubscribe(et, name)
	}
	reg.running = false
	cancel, done := reg.cancel, reg.done
	r.mu.Unlock()

	cancel()
	<-done

	r.logger.Info("agent stopped", zap.String("agent", name))
	r.bus.Publish(ctx, domain.NewEvent(EventTypeAgentStopped, "runtime", map[string]any{
		"agent": name,
	}))
	return nil
}

// StartAll / StopAll — пакетные операции для main().
func (r *Runtime) StartAll(ctx context.Context) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	r.mu.RUnlock()

	for _, n := range names {
		if err := r.StartAgent(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) StopAll(ctx context.Context) {
	r.mu.RLock()
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	r.mu.RUnlock()

	for _, n := range names {
		if err := r.StopAgent(ctx, n); err != nil {
			r.logger.Error("failed to stop agent", zap.String("agent", n), zap.Error(err))
		}
	}
}

// SetThresholds горячо обновляет пороги маршрутизации агента.
func (r *Runtime) SetThresholds(name string, th domain.Thresholds) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.agents[name]
	if !ok {
		return fmt.Errorf("runtime: agent %q is not registered", name)
	}
	reg.thresholds = th
	return nil
}

func (r *Runtime) thresholds(name string) domain.Thresholds {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.agents[name]; ok {
		return reg.thresholds
	}
	return domain.DefaultThresholds()
}

// work — mailbox-воркер: строго последовательная обработка событий агента.
func (r *Runtime) work(ctx context.Context, reg *registration) {
	defer close(reg.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-reg.mailbox:
			r.process(ctx, reg, ev)
		}
	}
}

// process — один цикл «событие -> решение -> маршрутизация».
// Любая паника или ошибка изолируется: превращается в agent_error
// и не роняет ни рантайм, ни соседних агентов.
func (r *Runtime) process(ctx context.Context, reg *registration, ev domain.Event) {
	name := reg.agent.Name()
	defer func() {
		if rec := recover(); rec != nil {
			r.reportError(ctx, name, ev, fmt.Errorf("panic: %v", rec))
		}
	}()

	decision, err := reg.agent.HandleEvent(ctx, ev)
	if err != nil {
		r.reportError(ctx, name, ev, err)
		return
	}
	if decision == nil {
		// Агенту нечего делать с этим событием
		return
	}

	r.route(ctx, reg, ev, *decision)
}

// route — четырехполосная маршрутизация по уверенности.
func (r *Runtime) route(ctx context.Context, reg *registration, ev domain.Event, d domain.AgentDecision) {
	name := reg.agent.Name()
	th := r.thresholds(name)

	// Флаги решения перекрывают пороги: approval запрашивается,
	// если ЛЮБОЙ из них этого требует
	if !d.ShouldAutoExecute || d.RequiresApproval {
		r.publishApproval(ctx, name, ev, d, laneConfirm, false)
		return
	}

	switch {
	case d.Confidence >= th.AutoExecute:
		r.execute(ctx, reg, ev, d, laneAutoExecute)
	case d.Confidence >= th.NotifyAfter:
		// Тот же путь исполнения, но с явным намерением уведомить
		r.execute(ctx, reg, ev, d, laneNotifyAfter)
	case d.Confidence >= th.AskConfirmation:
		r.publishApproval(ctx, name, ev, d, laneConfirm, false)
	default:
		r.publishApproval(ctx, name, ev, d, laneEscalate, true)
	}
}

func (r *Runtime) execute(ctx context.Context, reg *registration, ev domain.Event, d domain.AgentDecision, lane string) {
	name := reg.agent.Name()
	r.metrics.DecisionsByLane.WithLabelValues(name, lane).Inc()

	if err := reg.agent.ExecuteDecision(ctx, ev, d); err != nil {
		r.reportError(ctx, name, ev, err)
		return
	}

	executed := domain.NewEvent(EventTypeActionExecuted, name, map[string]any{
		"agent":            name,
		"action":           d.Action,
		"confidence":       d.Confidence,
		"confidence_level": string(d.Level()),
		"reasoning":        d.Reasoning,
		"lane":             lane,
		"notify":           lane == laneNotifyAfter,
		"source_event_id":  ev.EventID,
	})
	executed.CorrelationID = ev.CorrelationID
	executed.Confidence = d.Confidence
	r.bus.Publish(ctx, executed)
}

func (r *Runtime) publishApproval(ctx context.Context, agentName string, ev domain.Event, d domain.AgentDecision, lane string, requiresHuman bool) {
	r.metrics.DecisionsByLane.WithLabelValues(agentName, lane).Inc()

	payload := map[string]any{
		"agent":            agentName,
		"action":           d.Action,
		"confidence":       d.Confidence,
		"confidence_level": string(d.Level()),
		"reasoning":        d.Reasoning,
		"lane":             lane,
		"requires_human":   requiresHuman,
		"source_event_id":  ev.EventID,
	}
	if requiresHuman && d.EscalateTo != "" {
		payload["escalate_to"] = d.EscalateTo
	}

	approval := domain.NewEvent(EventTypeApprovalNeeded, agentName, payload)
	approval.CorrelationID = ev.CorrelationID
	approval.Confidence = d.Confidence
	r.bus.Publish(ctx, approval)
}

func (r *Runtime) reportError(ctx context.Context, agentName string, ev domain.Event, err error) {
	r.logger.Error("agent handler error",
		zap.String("agent", agentName),
		zap.String("event_type", ev.Type),
		zap.String("event_id", ev.EventID),
		zap.Error(err))
	r.metrics.AgentErrorsTotal.WithLabelValues(agentName).Inc()

	errEv := domain.NewEvent(EventTypeAgentError, agentName, map[string]any{
		"agent":           agentName,
		"error":           err.Error(),
		"source_event_id": ev.EventID,
	})
	errEv.CorrelationID = ev.CorrelationID
	r.bus.Publish(ctx, errEv)
}
