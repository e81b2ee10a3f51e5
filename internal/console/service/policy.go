package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/aag-core/internal/domain"
	"github.com/xela07ax/aag-core/internal/infra"
)

// PolicyRepository описывает требования сервиса к хранилищу политик
type PolicyRepository interface {
	GetPolicy(ctx context.Context, orgID string) (*domain.Policy, error)
	GetAllPolicies(ctx context.Context) ([]domain.Policy, error)
	UpsertPolicy(ctx context.Context, p *domain.Policy) error
}

type PolicyService struct {
	repo PolicyRepository
	rdb  *redis.Client
}

func NewPolicyService(repo PolicyRepository, rdb *redis.Client) *PolicyService {
	return &PolicyService{
		repo: repo,
		rdb:  rdb,
	}
}

func (s *PolicyService) Get(ctx context.Context, orgID string) (*domain.Policy, error) {
	return s.repo.GetPolicy(ctx, orgID)
}

// GetAll возвращает все политики из БД
func (s *PolicyService) GetAll(ctx context.Context) ([]domain.Policy, error) {
	return s.repo.GetAllPolicies(ctx)
}

// Upsert сохраняет политику тенанта и уведомляет шлюзы об обновлении
// (last-write-wins на уровне тенанта).
func (s *PolicyService) Upsert(ctx context.Context, p *domain.Policy) error {
	p.UpdatedAt = time.Now()
	if err := s.repo.UpsertPolicy(ctx, p); err != nil {
		return err
	}
	return s.notifyUpdate(ctx)
}

// notifyUpdate отправляет широковещательный сигнал в Redis.
// Все шлюзы, подписанные на этот канал, вызовут Refresh() своего MemoStore.
func (s *PolicyService) notifyUpdate(ctx context.Context) error {
	// Сигнал может быть простым "refresh", так как шлюз сам перечитает всю таблицу
	return s.rdb.Publish(ctx, infra.RedisChanPolicyUpdate, "refresh").Err()
}
