package runtime

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/aag-core/internal/infra"
	"go.uber.org/zap"
)

// KillSwitchListener останавливает агента по сигналу из Redis:
// ИБ-команда одной кнопкой снимает агента с шины, не дожидаясь
// деплоя или перезапуска шлюза. Payload сигнала — имя агента.
type KillSwitchListener struct {
	rt     *Runtime
	rdb    *redis.Client
	logger *zap.Logger
}

func NewKillSwitchListener(rt *Runtime, rdb *redis.Client, logger *zap.Logger) *KillSwitchListener {
	return &KillSwitchListener{
		rt:     rt,
		rdb:    rdb,
		logger: logger.Named("kill-switch"),
	}
}

// Start блокируется до отмены контекста.
func (l *KillSwitchListener) Start(ctx context.Context) {
	infra.ListenResilient(ctx, l.rdb, l.logger, infra.RedisChanAgentKillSwitch,
		nil,
		func(payload string) {
			l.logger.Warn("received kill signal for agent", zap.String("agent", payload))
			if err := l.rt.StopAgent(ctx, payload); err != nil {
				l.logger.Error("failed to stop agent on kill signal",
					zap.String("agent", payload), zap.Error(err))
			}
		},
	)
}
