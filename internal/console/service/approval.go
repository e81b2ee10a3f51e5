package service

/*
Файл approval.go — механизм Human-in-the-loop консоли. Команды в статусе
blocked_for_approval ждут решения оператора; само решение не пишется в
БД напрямую, а транслируется сигналом в Redis — его вычитает шлюз и
выполнит переход blocked_for_approval -> queued через свою очередь
(единственный владелец конечного автомата).
*/

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/aag-core/internal/infra"
	"github.com/xela07ax/aag-core/internal/repository/postgres"
	"go.uber.org/zap"
)

// ApprovalRepository описывает требования к хранилищу очереди решений
type ApprovalRepository interface {
	ListBlockedCommands(ctx context.Context, orgID string, limit int) ([]postgres.BlockedCommand, error)
}

type ApprovalService struct {
	repo   ApprovalRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewApprovalService(repo ApprovalRepository, rdb *redis.Client, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("approval-service"),
	}
}

// ListPending отдает очередь решений (Decision Queue) тенанта.
func (s *ApprovalService) ListPending(ctx context.Context, orgID string, limit int) ([]postgres.BlockedCommand, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListBlockedCommands(ctx, orgID, limit)
}

// Decide фиксирует решение оператора. Мы передаем reviewerID для
// обеспечения подотчетности (Accountability). Отклонение тоже
// транслируется: шлюз его залогирует, команда останется заблокированной.
func (s *ApprovalService) Decide(ctx context.Context, sessionID, commandID string, approved bool, reviewerID string) error {
	verdict := "reject"
	if approved {
		verdict = "approve"
	}

	// Разделитель "|": command_id макро-шагов содержит ":"
	payload := fmt.Sprintf("%s|%s|%s|%s", sessionID, commandID, reviewerID, verdict)
	if err := s.rdb.Publish(ctx, infra.RedisChanApprovalDecisions, payload).Err(); err != nil {
		// Если Redis недоступен, команда останется в blocked_for_approval —
		// оператор повторит решение позже (Fail-Safe)
		s.logger.Error("critical: decision signal not delivered",
			zap.String("session_id", sessionID),
			zap.String("command_id", commandID),
			zap.Error(err))
		return fmt.Errorf("redis signal failure: %w", err)
	}

	s.logger.Info("HITL decision processed successfully",
		zap.String("session_id", sessionID),
		zap.String("command_id", commandID),
		zap.String("reviewer", reviewerID),
		zap.String("verdict", verdict))
	return nil
}
