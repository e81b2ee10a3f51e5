package executor

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
	"github.com/xela07ax/aag-core/internal/queue"
	"github.com/xela07ax/aag-core/internal/registry"
	"github.com/xela07ax/aag-core/internal/repository/memory"
	"go.uber.org/zap"
)

// scriptedProvider записывает вызовы и отдает сценарные ответы.
type scriptedProvider struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (p *scriptedProvider) Call(_ context.Context, tool string, _ map[string]any) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, tool)
	if err, ok := p.fail[tool]; ok {
		return nil, err
	}
	return map[string]any{"tool": tool, "status": "ok"}, nil
}

func (p *scriptedProvider) called() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func newWorkerFixture(t *testing.T) (*Worker, *queue.Service, *memory.Store, *scriptedProvider) {
	t.Helper()
	store := memory.NewStore()
	svc := queue.NewService(
		store, store,
		staticPolicies{},
		policy.NewEngine(registry.New()),
		macro.NewExpander(),
		discardSink{},
		zap.NewNop(),
		nil,
	)
	provider := &scriptedProvider{fail: map[string]error{}}
	w := NewWorker(store, svc, provider, zap.NewNop(), nil, 0)
	return w, svc, store, provider
}

type staticPolicies struct{}

func (staticPolicies) Get(_ string) *domain.Policy {
	return &domain.Policy{
		OrganizationID: "org-1",
		Enabled:        true,
		Config:         domain.PolicyConfig{AutoApproveReadOnly: true},
	}
}

type discardSink struct{}

func (discardSink) Log(_ audit.AuditEvent) {}

func TestWorkerExecutesQueuedCommand(t *testing.T) {
	w, svc, store, provider := newWorkerFixture(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "org-1", "ap-1", "agent-1", nil)
	require.NoError(t, err)
	cmd, err := svc.Enqueue(ctx, sess.ID, domain.CommandRequest{Tool: "read_page"}, "agent-1", false, "", "", "")
	require.NoError(t, err)
	require.Equal(t, domain.CommandQueued, cmd.Status)

	w.tick(ctx)

	done, err := store.GetCommand(ctx, sess.ID, cmd.CommandID)
	require.NoError(t, err)
	require.Equal(t, domain.CommandCompleted, done.Status)
	require.Equal(t, "ok", done.ResultPayload["status"])
	require.Equal(t, []string{"read_page"}, provider.called())
}

func TestWorkerMarksFailureAsFailed(t *testing.T) {
	w, svc, store, provider := newWorkerFixture(t)
	provider.fail["extract_fields"] = errors.New("extraction model unavailable")
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "org-1", "ap-1", "agent-1", nil)
	require.NoError(t, err)
	cmd, err := svc.Enqueue(ctx, sess.ID, domain.CommandRequest{Tool: "extract_fields"}, "agent-1", false, "", "", "")
	require.NoError(t, err)

	w.tick(ctx)

	failed, err := store.GetCommand(ctx, sess.ID, cmd.CommandID)
	require.NoError(t, err)
	require.Equal(t, domain.CommandFailed, failed.Status)
	require.Equal(t, "extraction model unavailable", failed.ResultPayload["error"])
}

func TestWorkerSkipsCommandWithPendingDependency(t *testing.T) {
	w, svc, store, provider := newWorkerFixture(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "org-1", "ap-1", "agent-1", nil)
	require.NoError(t, err)

	// Корень блокируется на подтверждение (high_risk click)
	root, err := svc.Enqueue(ctx, sess.ID, domain.CommandRequest{Tool: "click"}, "agent-1", false, "", "", "")
	require.NoError(t, err)
	require.Equal(t, domain.CommandBlocked, root.Status)

	dependent, err := svc.Enqueue(ctx, sess.ID, domain.CommandRequest{
		Tool:      "screenshot",
		DependsOn: []string{root.CommandID},
	}, "agent-1", false, "", "", "")
	require.NoError(t, err)
	require.Equal(t, domain.CommandQueued, dependent.Status)

	// Зависимость не терминальна — зависимая команда пропускается
	w.tick(ctx)
	require.Empty(t, provider.called())

	// Подтверждение корня открывает обе команды: за один проход корень
	// завершается, и его зависимая идет следом
	_, err = svc.Confirm(ctx, sess.ID, root.CommandID, "alice")
	require.NoError(t, err)
	w.tick(ctx)

	require.Equal(t, []string{"click", "screenshot"}, provider.called())
	got, err := store.GetCommand(ctx, sess.ID, dependent.CommandID)
	require.NoError(t, err)
	require.Equal(t, domain.CommandCompleted, got.Status)
}

func TestWorkerProceedsWhenDependencyFailed(t *testing.T) {
	w, svc, store, provider := newWorkerFixture(t)
	provider.fail["read_page"] = errors.New("page gone")
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "org-1", "ap-1", "agent-1", nil)
	require.NoError(t, err)
	root, err := svc.Enqueue(ctx, sess.ID, domain.CommandRequest{Tool: "read_page"}, "agent-1", false, "", "", "")
	require.NoError(t, err)
	dependent, err := svc.Enqueue(ctx, sess.ID, domain.CommandRequest{
		Tool:      "screenshot",
		DependsOn: []string{root.CommandID},
	}, "agent-1", false, "", "", "")
	require.NoError(t, err)

	// Провал зависимости не блокирует навсегда: failed — терминальный
	w.tick(ctx)

	got, err := store.GetCommand(ctx, sess.ID, dependent.CommandID)
	require.NoError(t, err)
	require.Equal(t, domain.CommandCompleted, got.Status)
}

func TestWorkerIgnoresUnknownDependency(t *testing.T) {
	w, svc, store, provider := newWorkerFixture(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "org-1", "ap-1", "agent-1", nil)
	require.NoError(t, err)
	cmd, err := svc.Enqueue(ctx, sess.ID, domain.CommandRequest{
		Tool:      "screenshot",
		DependsOn: []string{"no-such-command"},
	}, "agent-1", false, "", "", "")
	require.NoError(t, err)

	w.tick(ctx)

	got, err := store.GetCommand(ctx, sess.ID, cmd.CommandID)
	require.NoError(t, err)
	require.Equal(t, domain.CommandCompleted, got.Status)
	require.Equal(t, []string{"screenshot"}, provider.called())
}

func TestWorkerLeavesBlockedCommandsAlone(t *testing.T) {
	w, svc, store, provider := newWorkerFixture(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "org-1", "ap-1", "agent-1", nil)
	require.NoError(t, err)
	cmd, err := svc.Enqueue(ctx, sess.ID, domain.CommandRequest{Tool: "submit_form"}, "agent-1", false, "", "", "")
	require.NoError(t, err)
	require.Equal(t, domain.CommandBlocked, cmd.Status)

	w.tick(ctx)

	require.Empty(t, provider.called())
	got, err := store.GetCommand(ctx, sess.ID, cmd.CommandID)
	require.NoError(t, err)
	require.Equal(t, domain.CommandBlocked, got.Status)
}
