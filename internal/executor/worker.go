package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/aag-core/internal/domain"
	"github.com/xela07ax/aag-core/internal/infra"
	"github.com/xela07ax/aag-core/internal/queue"
)

const workerActorID = "executor-worker"

// Worker забирает команды в статусе queued и прогоняет их через
// провайдера. Результат возвращается в очередь как completed/failed.
// Порядок внутри сессии — рекомендательный: команда с незавершенными
// depends_on пропускается до следующего цикла.
type Worker struct {
	commands queue.CommandRepository
	svc      *queue.Service
	provider Provider
	logger   *zap.Logger
	metrics  *infra.Metrics
	interval time.Duration
	batch    int
}

func NewWorker(commands queue.CommandRepository, svc *queue.Service, provider Provider, logger *zap.Logger, metrics *infra.Metrics, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Worker{
		commands: commands,
		svc:      svc,
		provider: provider,
		logger:   logger.Named("executor-worker"),
		metrics:  metrics,
		interval: interval,
		batch:    32,
	}
}

// Run блокирует до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("executor worker started", zap.Duration("poll_interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("executor worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	cmds, err := w.commands.ListQueuedCommands(ctx, w.batch)
	if err != nil {
		w.logger.Error("poll queued commands failed", zap.Error(err))
		return
	}

	for i := range cmds {
		if ctx.Err() != nil {
			return
		}
		cmd := &cmds[i]
		ready, err := w.dependenciesDone(ctx, cmd)
		if err != nil {
			w.logger.Warn("dependency check failed", zap.String("command_id", cmd.CommandID), zap.Error(err))
			continue
		}
		if !ready {
			continue
		}
		w.execute(ctx, cmd)
	}
}

// dependenciesDone проверяет depends_on из payload команды. Провал
// зависимости не блокирует навсегда: команда все равно уйдет в работу,
// когда зависимость станет терминальной (очередь — не планировщик DAG).
func (w *Worker) dependenciesDone(ctx context.Context, cmd *domain.Command) (bool, error) {
	deps, ok := cmd.RequestPayload["depends_on"].([]string)
	if !ok {
		// После round-trip через JSONB список приходит как []any
		raw, isAny := cmd.RequestPayload["depends_on"].([]any)
		if !isAny {
			return true, nil
		}
		for _, d := range raw {
			if s, sok := d.(string); sok {
				deps = append(deps, s)
			}
		}
	}

	for _, depID := range deps {
		dep, err := w.commands.GetCommand(ctx, cmd.SessionID, depID)
		if err != nil {
			// Неизвестная зависимость не должна вешать очередь
			w.logger.Warn("unknown dependency, ignoring", zap.String("command_id", cmd.CommandID), zap.String("depends_on", depID))
			continue
		}
		if !dep.Status.IsTerminal() {
			return false, nil
		}
	}
	return true, nil
}

func (w *Worker) execute(ctx context.Context, cmd *domain.Command) {
	result, err := w.provider.Call(ctx, cmd.Tool, cmd.RequestPayload)

	status := domain.CommandCompleted
	outcome := "success"
	if err != nil {
		status = domain.CommandFailed
		outcome = "error"
		result = map[string]any{"error": err.Error()}
		w.logger.Warn("command execution failed",
			zap.String("session_id", cmd.SessionID),
			zap.String("command_id", cmd.CommandID),
			zap.String("tool", cmd.Tool),
			zap.Error(err),
		)
	}
	w.metrics.ExecutorCallsTotal.WithLabelValues(cmd.Tool, outcome).Inc()

	if _, err := w.svc.SubmitResult(ctx, cmd.SessionID, cmd.CommandID, status, result, workerActorID); err != nil {
		// ErrStaleTransition означает гонку с другим воркером — не страшно
		w.logger.Error("submit result failed",
			zap.String("session_id", cmd.SessionID),
			zap.String("command_id", cmd.CommandID),
			zap.Error(err),
		)
	}
}
