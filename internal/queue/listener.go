package queue

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/aag-core/internal/infra"
	"go.uber.org/zap"
)

// ApprovalListener принимает решения операторов (HITL), опубликованные
// Console API, и применяет их к заблокированным командам шлюза.
// Формат сигнала: "<session_id>|<command_id>|<reviewer>|<approve|reject>".
// Разделитель '|' — command_id макросов содержит ':'.
type ApprovalListener struct {
	svc    *Service
	rdb    *redis.Client
	logger *zap.Logger
}

func NewApprovalListener(svc *Service, rdb *redis.Client, logger *zap.Logger) *ApprovalListener {
	return &ApprovalListener{
		svc:    svc,
		rdb:    rdb,
		logger: logger.Named("approval-listener"),
	}
}

// Start блокируется до отмены контекста; живучесть подписки
// обеспечивает infra.ListenResilient.
func (l *ApprovalListener) Start(ctx context.Context) {
	infra.ListenResilient(ctx, l.rdb, l.logger, infra.RedisChanApprovalDecisions,
		nil,
		func(payload string) { l.handle(ctx, payload) },
	)
}

func (l *ApprovalListener) handle(ctx context.Context, payload string) {
	parts := strings.SplitN(payload, "|", 4)
	if len(parts) != 4 {
		l.logger.Error("invalid approval signal format", zap.String("payload", payload))
		return
	}
	sessionID, commandID, reviewer, verdict := parts[0], parts[1], parts[2], parts[3]

	switch verdict {
	case "approve":
		if _, err := l.svc.Confirm(ctx, sessionID, commandID, reviewer); err != nil {
			l.logger.Error("failed to apply approval",
				zap.String("session_id", sessionID),
				zap.String("command_id", commandID),
				zap.Error(err))
		}
	case "reject":
		// Отклонение не меняет статус: команда остается blocked_for_approval
		// до подтверждения или вытеснения новой командой. Фиксируем решение.
		l.logger.Info("approval rejected by operator",
			zap.String("session_id", sessionID),
			zap.String("command_id", commandID),
			zap.String("reviewer", reviewer))
	default:
		l.logger.Error("unknown approval verdict", zap.String("verdict", verdict))
	}
}
