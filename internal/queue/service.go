// Package queue владеет жизненным циклом команд внутри сессии:
// enqueue, подтверждение, запись результата. Политика применяется
// на входе (PDP), каждый переход статуса атомарен (CAS) и аудируется.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/aag-core/internal/audit"
	"github.com/xela07ax/aag-core/internal/domain"
	"github.com/xela07ax/aag-core/internal/infra"
	"github.com/xela07ax/aag-core/internal/macro"
	"github.com/xela07ax/aag-core/internal/policy"
	"go.uber.org/zap"
)

// CommandRepository — требования очереди к хранилищу команд.
type CommandRepository interface {
	CreateCommand(ctx context.Context, cmd *domain.Command) error
	// GetCommand возвращает domain.ErrCommandNotFound, если команды нет.
	GetCommand(ctx context.Context, sessionID, commandID string) (*domain.Command, error)
	// GetCommandByIdempotencyKey возвращает (nil, nil), если записи нет.
	GetCommandByIdempotencyKey(ctx context.Context, sessionID, key string) (*domain.Command, error)
	// UpdateCommand применяет изменение только если текущий статус равен
	// expect (compare-and-set); иначе domain.ErrStaleTransition.
	UpdateCommand(ctx context.Context, cmd *domain.Command, expect domain.CommandStatus) error
	ListCommands(ctx context.Context, sessionID string) ([]domain.Command, error)
	ListQueuedCommands(ctx context.Context, limit int) ([]domain.Command, error)
}

// SessionRepository — требования очереди к хранилищу сессий.
type SessionRepository interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	UpdateSessionState(ctx context.Context, id string, state domain.SessionState) error
}

// PolicySource отдает снапшот политики тенанта (nil — записи нет).
type PolicySource interface {
	Get(orgID string) *domain.Policy
}

// Service — Command Queue + Session Manager.
type Service struct {
	commands CommandRepository
	sessions SessionRepository
	policies PolicySource
	engine   *policy.Engine
	expander *macro.Expander
	auditor  audit.Sink
	logger   *zap.Logger
	metrics  *infra.Metrics
	locks    sessionLocks
}

func NewService(
	commands CommandRepository,
	sessions SessionRepository,
	policies PolicySource,
	engine *policy.Engine,
	expander *macro.Expander,
	auditor audit.Sink,
	logger *zap.Logger,
	metrics *infra.Metrics,
) *Service {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Service{
		commands: commands,
		sessions: sessions,
		policies: policies,
		engine:   engine,
		expander: expander,
		auditor:  auditor,
		logger:   logger.Named("command-queue"),
		metrics:  metrics,
	}
}

// CreateSession регистрирует новый рабочий контекст агента.
func (s *Service) CreateSession(ctx context.Context, orgID, apItemID, actorID string, metadata map[string]any) (*domain.Session, error) {
	now := time.Now()
	sess := &domain.Session{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		APItemID:       apItemID,
		State:          domain.SessionRunning,
		CreatedBy:      actorID,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("queue: create session: %w", err)
	}
	return sess, nil
}

// Enqueue — главная операция очереди. Идемпотентна по ключу;
// повторная подача заблокированной команды с confirm=true — это
// путь подтверждения, а не новая подача.
func (s *Service) Enqueue(ctx context.Context, sessionID string, req domain.CommandRequest, actorID string, confirm bool, confirmedBy, actorRole, workflowID string) (*domain.Command, error) {
	start := time.Now()
	unlock := s.locks.lock(sessionID)
	defer unlock()

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if req.CommandID == "" {
		req.CommandID = uuid.New().String()
	}
	key := req.IdempotencyKey
	if key == "" {
		key = domain.DeriveIdempotencyKey(sessionID, req.CommandID)
	}

	// 1. Идемпотентный replay: существующая команда возвращается как есть,
	// без повторной политики и без дубля аудита
	if existing, err := s.commands.GetCommandByIdempotencyKey(ctx, sessionID, key); err != nil {
		return nil, fmt.Errorf("queue: idempotency lookup: %w", err)
	} else if existing != nil {
		if existing.Status == domain.CommandBlocked && confirm {
			return s.confirmLocked(ctx, sess, existing, approver(confirmedBy, actorID))
		}
		return existing, nil
	}

	// 2. Путь подтверждения ранее заблокированной команды (тот же command_id,
	// но другой или отсутствующий idempotency key)
	if existing, err := s.commands.GetCommand(ctx, sessionID, req.CommandID); err == nil {
		if existing.Status == domain.CommandBlocked && confirm {
			return s.confirmLocked(ctx, sess, existing, approver(confirmedBy, actorID))
		}
		return existing, nil
	} else if !errors.Is(err, domain.ErrCommandNotFound) {
		return nil, err
	}

	// 3. Авторизация новой команды
	d := s.engine.Evaluate(s.policies.Get(sess.OrganizationID), req, actorRole, workflowID)

	var status domain.CommandStatus
	var approvedBy *string
	var approvedAt *time.Time
	switch {
	case !d.Allowed:
		status = domain.CommandDeniedPolicy
		s.metrics.PolicyDenialsTotal.WithLabelValues(reasonKind(d.Reason)).Inc()
	case d.RequiresConfirmation && confirm:
		status = domain.CommandQueued
		who := approver(confirmedBy, actorID)
		now := time.Now()
		approvedBy, approvedAt = &who, &now
	case d.RequiresConfirmation:
		status = domain.CommandBlocked
		s.metrics.PendingApprovals.Inc()
	default:
		status = domain.CommandQueued
	}

	now := time.Now()
	cmd := &domain.Command{
		SessionID:            sessionID,
		CommandID:            req.CommandID,
		Tool:                 req.Tool,
		Status:               status,
		RequiresConfirmation: d.RequiresConfirmation,
		ApprovedBy:           approvedBy,
		ApprovedAt:           approvedAt,
		PolicyReason:         d.Reason,
		RequestPayload:       buildRequestPayload(req, d),
		IdempotencyKey:       key,
		CorrelationID:        req.CorrelationID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	// 4. Персистентность. При ошибке записи in-memory состояние не трогаем —
	// частичных эффектов нет
	if err := s.commands.CreateCommand(ctx, cmd); err != nil {
		return nil, fmt.Errorf("queue: persist command: %w", err)
	}

	s.auditor.Log(audit.AuditEvent{
		OrganizationID: sess.OrganizationID,
		APItemID:       sess.APItemID,
		SessionID:      sessionID,
		EventType:      audit.EventCommandEnqueued,
		ActorType:      audit.ActorTypeAgent,
		ActorID:        actorID,
		Reason:         string(status),
		Metadata: map[string]any{
			"command_id":    cmd.CommandID,
			"tool":          cmd.Tool,
			"policy_reason": d.Reason,
			"policy_scope":  d.Scope,
			"tool_risk":     string(d.ToolRisk),
		},
		IdempotencyKey: "enqueued:" + key,
	})

	// 5. Состояние сессии — деривативно от команд
	if err := s.recomputeSessionLocked(ctx, sessionID); err != nil {
		s.logger.Error("session state recompute failed", zap.String("session_id", sessionID), zap.Error(err))
	}

	s.metrics.CommandsTotal.WithLabelValues(cmd.Tool, string(status)).Inc()
	s.metrics.EnqueueDuration.WithLabelValues(cmd.Tool, string(status)).Observe(time.Since(start).Seconds())
	return cmd, nil
}

// Confirm переводит заблокированную команду в queued от имени reviewer.
// Публичная точка входа для Console API и слушателя решений.
func (s *Service) Confirm(ctx context.Context, sessionID, commandID, reviewer string) (*domain.Command, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	cmd, err := s.commands.GetCommand(ctx, sessionID, commandID)
	if err != nil {
		return nil, err
	}
	if cmd.Status != domain.CommandBlocked {
		// Уже подтверждена или ушла дальше — идемпотентный no-op
		return cmd, nil
	}
	return s.confirmLocked(ctx, sess, cmd, reviewer)
}

func (s *Service) confirmLocked(ctx context.Context, sess *domain.Session, cmd *domain.Command, reviewer string) (*domain.Command, error) {
	if err := cmd.CanTransitionTo(domain.CommandQueued); err != nil {
		return nil, err
	}

	now := time.Now()
	next := *cmd
	next.Status = domain.CommandQueued
	next.ApprovedBy = &reviewer
	next.ApprovedAt = &now
	next.UpdatedAt = now

	if err := s.commands.UpdateCommand(ctx, &next, domain.CommandBlocked); err != nil {
		return nil, fmt.Errorf("queue: confirm command: %w", err)
	}
	s.metrics.PendingApprovals.Dec()

	s.auditor.Log(audit.AuditEvent{
		OrganizationID: sess.OrganizationID,
		APItemID:       sess.APItemID,
		SessionID:      sess.ID,
		EventType:      audit.EventCommandConfirmed,
		ActorType:      audit.ActorTypeHuman,
		ActorID:        reviewer,
		Reason:         "approved",
		Metadata: map[string]any{
			"command_id": cmd.CommandID,
			"tool":       cmd.Tool,
		},
		IdempotencyKey: "confirmed:" + cmd.IdempotencyKey,
	})

	if err := s.recomputeSessionLocked(ctx, sess.ID); err != nil {
		s.logger.Error("session state recompute failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
	return &next, nil
}

// SubmitResult фиксирует результат физического исполнения.
// Терминальная команда — no-op: эффект применяется не более одного раза.
func (s *Service) SubmitResult(ctx context.Context, sessionID, commandID string, status domain.CommandStatus, result map[string]any, actorID string) (*domain.Command, error) {
	if status != domain.CommandCompleted && status != domain.CommandFailed {
		return nil, fmt.Errorf("queue: invalid result status %q: %w", status, domain.ErrInvalidTransition)
	}

	unlock := s.locks.lock(sessionID)
	defer unlock()

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	cmd, err := s.commands.GetCommand(ctx, sessionID, commandID)
	if err != nil {
		return nil, err
	}
	if cmd.Status.IsTerminal() {
		return cmd, nil
	}
	if err := cmd.CanTransitionTo(status); err != nil {
		return nil, err
	}

	next := *cmd
	next.Status = status
	next.ResultPayload = result
	next.UpdatedAt = time.Now()

	if err := s.commands.UpdateCommand(ctx, &next, cmd.Status); err != nil {
		return nil, fmt.Errorf("queue: submit result: %w", err)
	}

	s.auditor.Log(audit.AuditEvent{
		OrganizationID: sess.OrganizationID,
		APItemID:       sess.APItemID,
		SessionID:      sessionID,
		EventType:      audit.EventCommandResult,
		ActorType:      audit.ActorTypeSystem,
		ActorID:        actorID,
		Reason:         string(status),
		Metadata: map[string]any{
			"command_id": commandID,
			"tool":       cmd.Tool,
		},
		IdempotencyKey: "result:" + cmd.IdempotencyKey,
	})

	if err := s.recomputeSessionLocked(ctx, sessionID); err != nil {
		s.logger.Error("session state recompute failed", zap.String("session_id", sessionID), zap.Error(err))
	}

	s.metrics.CommandsTotal.WithLabelValues(cmd.Tool, string(status)).Inc()
	return &next, nil
}

// PreviewSummary — человекочитаемое превью решения без побочных эффектов.
type PreviewSummary struct {
	Tool                 string   `json:"tool"`
	Risk                 string   `json:"risk"`
	Category             string   `json:"category"`
	Host                 string   `json:"host,omitempty"`
	Allowed              bool     `json:"allowed"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
	Reason               string   `json:"reason"`
	Scope                string   `json:"scope"`
	Summary              string   `json:"summary"`
	Warnings             []string `json:"warnings,omitempty"`
}

// Preview прогоняет ту же авторизацию, что и Enqueue, но ничего
// не персистит и не аудирует — это dry-run для UI.
func (s *Service) Preview(ctx context.Context, sessionID string, req domain.CommandRequest, actorID, actorRole, workflowID string) (*PreviewSummary, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	d := s.engine.Evaluate(s.policies.Get(sess.OrganizationID), req, actorRole, workflowID)
	return summarize(req, d), nil
}

func summarize(req domain.CommandRequest, d policy.Decision) *PreviewSummary {
	p := &PreviewSummary{
		Tool:                 req.Tool,
		Risk:                 string(d.ToolRisk),
		Category:             d.ToolCategory,
		Host:                 d.Host,
		Allowed:              d.Allowed,
		RequiresConfirmation: d.RequiresConfirmation,
		Reason:               d.Reason,
		Scope:                d.Scope,
	}

	var sb strings.Builder
	sb.WriteString(req.Tool)
	if d.ToolRisk != "" {
		sb.WriteString(" (" + string(d.ToolRisk) + ")")
	}
	if d.Host != "" {
		sb.WriteString(" on " + d.Host)
	}
	switch {
	case !d.Allowed:
		sb.WriteString(" — denied")
		p.Warnings = append(p.Warnings, d.Reason)
	case d.RequiresConfirmation:
		sb.WriteString(" — requires confirmation")
		p.Warnings = append(p.Warnings, "requires human confirmation")
	}
	p.Summary = sb.String()
	return p
}

// MacroDispatchResult — агрегат по dispatch/dry-run макроса.
type MacroDispatchResult struct {
	Status        string            `json:"status"` // "previewed" | "dispatched"
	Macro         string            `json:"macro"`
	CorrelationID string            `json:"correlation_id"`
	Previews      []*PreviewSummary `json:"previews,omitempty"`
	Commands      []*domain.Command `json:"commands,omitempty"`
	Queued        int               `json:"queued"`
	Blocked       int               `json:"blocked"`
	Denied        int               `json:"denied"`
}

// DispatchMacro раскрывает макрос и либо превьюит каждую команду (dry run),
// либо ставит их в очередь в порядке зависимостей. Итоговое сводное
// аудит-событие пишется в обоих режимах.
func (s *Service) DispatchMacro(ctx context.Context, sessionID, macroName, actorID, actorRole, workflowID, correlationID string, params map[string]any, dryRun bool) (*MacroDispatchResult, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	reqs, err := s.expander.Expand(macroName, params, correlationID)
	if err != nil {
		return nil, err
	}

	res := &MacroDispatchResult{
		Macro:         macroName,
		CorrelationID: correlationID,
	}

	if dryRun {
		res.Status = "previewed"
		for _, req := range reqs {
			p, err := s.Preview(ctx, sessionID, req, actorID, actorRole, workflowID)
			if err != nil {
				return nil, err
			}
			res.Previews = append(res.Previews, p)
			switch {
			case !p.Allowed:
				res.Denied++
			case p.RequiresConfirmation:
				res.Blocked++
			default:
				res.Queued++
			}
		}
	} else {
		res.Status = "dispatched"
		for _, req := range reqs {
			cmd, err := s.Enqueue(ctx, sessionID, req, actorID, false, "", actorRole, workflowID)
			if err != nil {
				return nil, err
			}
			res.Commands = append(res.Commands, cmd)
			switch cmd.Status {
			case domain.CommandDeniedPolicy:
				res.Denied++
			case domain.CommandBlocked:
				res.Blocked++
			default:
				res.Queued++
			}
		}
	}

	mode := "dispatch"
	if dryRun {
		mode = "dry_run"
	}
	s.auditor.Log(audit.AuditEvent{
		OrganizationID: sess.OrganizationID,
		APItemID:       sess.APItemID,
		SessionID:      sessionID,
		EventType:      audit.EventMacroDispatched,
		ActorType:      audit.ActorTypeAgent,
		ActorID:        actorID,
		Reason:         res.Status,
		Metadata: map[string]any{
			"macro":          macroName,
			"correlation_id": correlationID,
			"queued":         res.Queued,
			"blocked":        res.Blocked,
			"denied":         res.Denied,
		},
		IdempotencyKey: fmt.Sprintf("macro:%s:%s:%s", sessionID, correlationID, mode),
	})

	return res, nil
}

// SessionView — агрегат для GetSession (§ внешние интерфейсы).
type SessionView struct {
	Session          *domain.Session  `json:"session"`
	Commands         []domain.Command `json:"commands"`
	PendingApprovals []domain.Command `json:"pending_approvals"`
	QueuedCommands   []domain.Command `json:"queued_commands"`
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*SessionView, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	cmds, err := s.commands.ListCommands(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("queue: list commands: %w", err)
	}

	view := &SessionView{Session: sess, Commands: cmds}
	for _, c := range cmds {
		switch c.Status {
		case domain.CommandBlocked:
			view.PendingApprovals = append(view.PendingApprovals, c)
		case domain.CommandQueued:
			view.QueuedCommands = append(view.QueuedCommands, c)
		}
	}
	return view, nil
}

// recomputeSessionLocked пересчитывает деривативное состояние сессии.
// Вызывается только под локом сессии.
func (s *Service) recomputeSessionLocked(ctx context.Context, sessionID string) error {
	cmds, err := s.commands.ListCommands(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.sessions.UpdateSessionState(ctx, sessionID, domain.DeriveSessionState(cmds))
}

func buildRequestPayload(req domain.CommandRequest, d policy.Decision) map[string]any {
	payload := make(map[string]any, len(req.Params)+3)
	for k, v := range req.Params {
		payload[k] = v
	}
	if req.Target != "" {
		payload["target"] = req.Target
	}
	if len(req.DependsOn) > 0 {
		payload["depends_on"] = req.DependsOn
	}
	// Полные метаданные политики — для превью и последующего аудита
	payload["_policy"] = map[string]any{
		"scope":    d.Scope,
		"risk":     string(d.ToolRisk),
		"category": d.ToolCategory,
		"host":     d.Host,
		"reason":   d.Reason,
	}
	return payload
}

func approver(confirmedBy, actorID string) string {
	if confirmedBy != "" {
		return confirmedBy
	}
	return actorID
}

// reasonKind обрезает детали из reason для низкокардинальной метрики.
func reasonKind(reason string) string {
	if i := strings.IndexByte(reason, ':'); i > 0 {
		return reason[:i]
	}
	return reason
}
