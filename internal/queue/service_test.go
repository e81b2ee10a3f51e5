package queue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xela07ax/aag-core/internal/audit"
	"github.com/xela07ax/aag-core/internal/domain"
	"github.com/xela07ax/aag-core/internal/macro"
	"github.com/xela07ax/aag-core/internal/policy"
	"github.com/xela07ax/aag-core/internal/registry"
	"github.com/xela07ax/aag-core/internal/repository/memory"
	"go.uber.org/zap"
)

// sinkRecorder — синхронный Sink для тестов вместо асинхронного Trail.
type sinkRecorder struct {
	mu     sync.Mutex
	events []audit.AuditEvent
}

func (r *sinkRecorder) Log(ev audit.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *sinkRecorder) byType(eventType string) []audit.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.AuditEvent
	for _, ev := range r.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type policyStub struct {
	pol *domain.Policy
}

func (p *policyStub) Get(orgID string) *domain.Policy { return p.pol }

func permissivePolicy() *domain.Policy {
	return &domain.Policy{
		OrganizationID: "org-1",
		Enabled:        true,
		Config:         domain.PolicyConfig{AutoApproveReadOnly: true},
	}
}

func newTestService(t *testing.T, pol *domain.Policy) (*Service, *memory.Store, *sinkRecorder) {
	t.Helper()
	store := memory.NewStore()
	sink := &sinkRecorder{}
	svc := NewService(
		store, store,
		&policyStub{pol: pol},
		policy.NewEngine(registry.New()),
		macro.NewExpander(),
		sink,
		zap.NewNop(),
		nil,
	)
	return svc, store, sink
}

func newTestSession(t *testing.T, svc *Service) *domain.Session {
	t.Helper()
	sess, err := svc.CreateSession(context.Background(), "org-1", "ap-item-7", "agent-1", nil)
	require.NoError(t, err)
	return sess
}

func TestEnqueueReadOnlyGoesStraightToQueue(t *testing.T) {
	svc, _, sink := newTestService(t, permissivePolicy())
	sess := newTestSession(t, svc)

	cmd, err := svc.Enqueue(context.Background(), sess.ID,
		domain.CommandRequest{Tool: "read_page", Target: "https://erp.internal/invoice"},
		"agent-1", false, "", "", "")
	require.NoError(t, err)
	require.Equal(t, domain.CommandQueued, cmd.Status)
	require.False(t, cmd.RequiresConfirmation)
	require.Equal(t, "allowed", cmd.PolicyReason)

	enq := sink.byType(audit.EventCommandEnqueued)
	require.Len(t, enq, 1)
	require.Equal(t, audit.ActorTypeAgent, enq[0].ActorType)
}

func TestEnqueueHighRiskBlocksForApproval(t *testing.T) {
	svc, _, _ := newTestService(t, permissivePolicy())
	sess := newTestSession(t, svc)
	ctx := context.Background()

	cmd, err := svc.Enqueue(ctx, sess.ID,
		domain.CommandRequest{Tool: "post_erp_transaction"},
		"agent-1", false, "", "", "")
	require.NoError(t, err)
	require.Equal(t, domain.CommandBlocked, cmd.Status)
	require.True(t, cmd.RequiresConfirmation)

	// Блокирующая команда переводит сессию в blocked_for_approval
	view, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionBlocked, view.Session.State)
	require.Len(t, view.PendingApprovals, 1)
}

func TestConfirmUnblocksCommand(t *testing.T) {
	svc, _, sink := newTestService(t, permissivePolicy())
	sess := newTestSession(t, svc)
	ctx := context.Background()

	cmd, err := svc.Enqueue(ctx, sess.ID, domain.CommandRequest{Tool: "click"}, "agent-1", false, "", "", "")
	require.NoError(t, err)
	require.Equal(t, domain.CommandBlocked, cmd.Status)

	got, err := svc.Confirm(ctx, sess.ID, cmd.CommandID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.CommandQueued, got.Status)
	require.NotNil(t, got.ApprovedBy)
	require.Equal(t, "alice", *got.ApprovedBy)
	require.NotNil(t, got.ApprovedAt)

	// Сессия разблокировалась
	view, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionRunning, view.Session.State)

	conf := sink.byType(audit.EventCommandConfirmed)
	require.Len(t, conf, 1)
	require.Equal(t, audit.ActorTypeHuman, conf[0].ActorType)
	require.Equal(t, "alice", conf[0].ActorID)

	// Повторное подтверждение — идемпотентный no-op
	again, err := svc.Confirm(ctx, sess.ID, cmd.CommandID, "bob")
	require.NoError(t, err)
	require.Equal(t, "alice", *again.ApprovedBy)
	require.Len(t, sink.byType(audit.EventCommandConfirmed), 1)
}

func TestEnqueueWithConfirmFlagSkipsBlock(t *testing.T) {
	svc, _, _ := newTestService(t, permissivePolicy())
	sess := newTestSession(t, svc)

	cmd, err := svc.Enqueue(context.Background(), sess.ID,
		domain.CommandRequest{Tool: "submit_form"},
		"agent-1", true, "reviewer-7", "", "")
	require.NoError(t, err)
	require.Equal(t, domain.CommandQueued, cmd.Status)
	require.Equal(t, "reviewer-7", *cmd.ApprovedBy)
}

func TestEnqueueDeniedByPolicy(t *testing.T) {
	pol := permissivePolicy()
	pol.Config.BlockedTools = []string{"send_email"}
	svc, _, _ := newTestService(t, pol)
	sess := newTestSession(t, svc)
	ctx := context.Background()

	cmd, err := svc.Enqueue(ctx, sess.ID, domain.CommandRequest{Tool: "send_email"}, "agent-1", false, "", "", "")
	require.NoError(t, err)
	require.Equal(t, domain.CommandDeniedPolicy, cmd.Status)
	require.Equal(t, "blocked_action:send_email", cmd.PolicyReason)

	// Отказ терминален: ни результат, ни подтверждение его не оживят
	_, err = svc.SubmitResult(ctx, sess.ID, cmd.CommandID, domain.CommandCompleted, nil, "worker")
	require.NoError(t, err) // терминальный no-op возвращает команду как есть

	got, err := svc.Confirm(ctx, sess.ID, cmd.CommandID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.CommandDeniedPolicy, got.Status)
}

func TestIdempotentReplayReturnsExistingCommand(t *testing.T) {
	svc, _, sink := newTestService(t, permissivePolicy())
	sess := newTestSession(t, svc)
	ctx := context.Background()

	req := domain.CommandRequest{Tool: "read_page", IdempotencyKey: "caller-key-1"}
	first, err := svc.Enqueue(ctx, sess.ID, req, "agent-1", false, "", "", "")
	require.NoError(t, err)

	second, err := svc.Enqueue(ctx, sess.ID, req, "agent-1", false, "", "", "")
	require.NoError(t, err)
	require.Equal(t, first.CommandID, second.CommandID)

	// Повтор не плодит ни команд, ни аудита
	view, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, view.Commands, 1)
	require.Len(t, sink.byType(audit.EventCommandEnqueued), 1)
}

func TestReplayWithConfirmIsTheApprovalPath(t *testing.T) {
	svc, _, _ := newTestService(t, permissivePolicy())
	sess := newTestSession(t, svc)
	ctx := context.Background()

	req := domain.CommandRequest{Tool: "click", IdempotencyKey: "caller-key-2"}
	first, err := svc.Enqueue(ctx, sess.ID, req, "agent-1", false, "", "", "")
	require.NoError(t, err)
	require.Equal(t, domain.CommandBlocked, first.Status)

	// Повторная подача той же команды с confirm=true подтверждает ее
	second, err := svc.Enqueue(ctx, sess.ID, req, "agent-1", true, "alice", "", "")
	require.NoError(t, err)
	require.Equal(t, domain.CommandQueued, second.Status)
	require.Equal(t, "alice", *second.ApprovedBy)
}

func TestSubmitResult(t *testing.T) {
	svc, _, sink := newTestService(t, permissivePolicy())
	sess := newTestSession(t, svc)
	ctx := context.Background()

	cmd, err := svc.Enqueue(ctx, sess.ID, domain.CommandRequest{Tool: "screenshot"}, "agent-1", false, "", "", "")
	require.NoError(t, err)

	done, err := svc.SubmitResult(ctx, sess.ID, cmd.CommandID, domain.CommandCompleted,
		map[string]any{"artifact": "s3://evidence/1.png"}, "worker")
	require.NoError(t, err)
	require.Equal(t, domain.CommandCompleted, done.Status)
	require.Equal(t, "s3://evidence/1.png", done.ResultPayload["artifact"])
	require.Len(t, sink.byType(audit.EventCommandResult), 1)

	// Терминальная команда — no-op, результат не перезаписывается
	again, err := svc.SubmitResult(ctx, sess.ID, cmd.CommandID, domain.CommandFailed, nil, "worker")
	require.NoError(t, err)
	require.Equal(t, domain.CommandCompleted, again.Status)
	require.Len(t, sink.byType(audit.EventCommandResult), 1)
}

func TestSubmitResultRejectsNonTerminalStatus(t *testing.T) {
	svc, _, _ := newTestService(t, permissivePolicy())
	sess := newTestSession(t, svc)

	_, err := svc.SubmitResult(context.Background(), sess.ID, "whatever", domain.CommandQueued, nil, "worker")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSubmitResultOnBlockedCommand(t *testing.T) {
	svc, _, _ := newTestService(t, permissivePolicy())
	sess := newTestSession(t, svc)
	ctx := context.Background()

	cmd, err := svc.Enqueue(ctx, sess.ID, domain.CommandRequest{Tool: "click"}, "agent-1", false, "", "", "")
	require.NoError(t, err)
	require.Equal(t, domain.CommandBlocked, cmd.Status)

	// Исполнитель не может завершить неподтвержденную команду
	_, err = svc.SubmitResult(ctx, sess.ID, cmd.CommandID, domain.CommandCompleted, nil, "worker")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestPreviewHasNoSideEffects(t *testing.T) {
	svc, _, sink := newTestService(t, permissivePolicy())
	sess := newTestSession(t, svc)
	ctx := context.Background()

	p, err := svc.Preview(ctx, sess.ID, domain.CommandRequest{Tool: "post_erp_transaction"}, "agent-1", "", "")
	require.NoError(t, err)
	require.True(t, p.Allowed)
	require.True(t, p.RequiresConfirmation)
	require.Contains(t, p.Summary, "post_erp_transaction")
	require.Contains(t, p.Warnings, "requires human confirmation")

	view, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Empty(t, view.Commands)
	require.Empty(t, sink.byType(audit.EventCommandEnqueued))
}

func TestDispatchMacroDryRun(t *testing.T) {
	svc, _, sink := newTestService(t, permissivePolicy())
	sess := newTestSession(t, svc)
	ctx := context.Background()

	res, err := svc.DispatchMacro(ctx, sess.ID, "post_invoice_to_erp", "agent-1", "", "", "corr-1",
		map[string]any{"erp_url": "https://erp.internal/post"}, true)
	require.NoError(t, err)
	require.Equal(t, "previewed", res.Status)
	require.Len(t, res.Previews, 4)
	require.Empty(t, res.Commands)
	// navigate, fill_form — queued; click — blocked; screenshot — queued
	require.Equal(t, 3, res.Queued)
	require.Equal(t, 1, res.Blocked)
	require.Equal(t, 0, res.Denied)

	// Dry run ничего не персистит, но сводное событие аудита есть
	view, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Empty(t, view.Commands)
	require.Len(t, sink.byType(audit.EventMacroDispatched), 1)
}

func TestDispatchMacroPersistsCommands(t *testing.T) {
	svc, _, _ := newTestService(t, permissivePolicy())
	sess := newTestSession(t, svc)
	ctx := context.Background()

	res, err := svc.DispatchMacro(ctx, sess.ID, "post_invoice_to_erp", "agent-1", "", "", "corr-2",
		map[string]any{"erp_url": "https://erp.internal/post"}, false)
	require.NoError(t, err)
	require.Equal(t, "dispatched", res.Status)
	require.Len(t, res.Commands, 4)
	require.Equal(t, 3, res.Queued)
	require.Equal(t, 1, res.Blocked)

	view, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, view.Commands, 4)
	require.Equal(t, domain.SessionBlocked, view.Session.State)

	for _, cmd := range res.Commands {
		require.Equal(t, "corr-2", cmd.CorrelationID)
	}
}

func TestDispatchMacroReplayIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t, permissivePolicy())
	sess := newTestSession(t, svc)
	ctx := context.Background()

	params := map[string]any{"portal_url": "https://portal.vendor.example/"}
	first, err := svc.DispatchMacro(ctx, sess.ID, "fetch_vendor_statement", "agent-1", "", "", "corr-3", params, false)
	require.NoError(t, err)

	// Тот же correlation_id: детерминированные command_id дают replay
	second, err := svc.DispatchMacro(ctx, sess.ID, "fetch_vendor_statement", "agent-1", "", "", "corr-3", params, false)
	require.NoError(t, err)
	require.Len(t, second.Commands, len(first.Commands))

	view, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, view.Commands, 2)
}

func TestDispatchUnknownMacro(t *testing.T) {
	svc, _, _ := newTestService(t, permissivePolicy())
	sess := newTestSession(t, svc)

	_, err := svc.DispatchMacro(context.Background(), sess.ID, "nope", "agent-1", "", "", "", nil, false)
	require.True(t, errors.Is(err, domain.ErrMacroNotSupported))
}

func TestEnqueueUnknownSession(t *testing.T) {
	svc, _, _ := newTestService(t, permissivePolicy())

	_, err := svc.Enqueue(context.Background(), "missing", domain.CommandRequest{Tool: "read_page"}, "agent-1", false, "", "", "")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}
