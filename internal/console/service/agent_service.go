package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/aag-core/internal/domain"
	"github.com/xela07ax/aag-core/internal/infra"
	"go.uber.org/zap"
)

// StatsRepository описывает требования к хранилищу агрегатов
type StatsRepository interface {
	GetGlobalStatsRaw(ctx context.Context, orgID string) (total, denied, pending int64, topTools map[string]int64, err error)
}

// AgentService — управление агентами рантайма (Kill-Switch) и сводная
// статистика для дашборда.
type AgentService struct {
	repo   StatsRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewAgentService(repo StatsRepository, rdb *redis.Client, logger *zap.Logger) *AgentService {
	return &AgentService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("agent-service"),
	}
}

// KillAgent транслирует сигнал мгновенной остановки. Шлюз снимет
// подписки агента и остановит его mailbox-горутину.
func (s *AgentService) KillAgent(ctx context.Context, agentName string) error {
	if err := s.rdb.Publish(ctx, infra.RedisChanAgentKillSwitch, agentName).Err(); err != nil {
		s.logger.Error("kill-switch signal delivery failed",
			zap.String("agent", agentName),
			zap.Error(err))
		return fmt.Errorf("redis signal failure: %w", err)
	}

	s.logger.Info("kill-switch signal sent", zap.String("agent", agentName))
	return nil
}

func (s *AgentService) GetGlobalStats(ctx context.Context, orgID string) (*domain.GlobalStats, error) {
	// здесь можно добавить кэширование в Redis на 1 минуту,
	// чтобы не нагружать Postgres тяжелыми аналитическими запросами.
	total, denied, pending, topTools, err := s.repo.GetGlobalStatsRaw(ctx, orgID)
	if err != nil {
		return nil, err
	}

	stats := &domain.GlobalStats{
		TotalCommands:    total,
		DeniedCommands:   denied,
		PendingApprovals: pending,
		TopTools:         topTools,
	}
	if total > 0 {
		stats.DenyRatio = float64(denied) / float64(total)
	}
	return stats, nil
}
