package policy

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/aag-core/internal/domain"
	"github.com/xela07ax/aag-core/internal/infra"
	"go.uber.org/zap"
)

// Repository описывает требования кэша к хранилищу политик.
type Repository interface {
	GetPolicy(ctx context.Context, orgID string) (*domain.Policy, error)
	GetAllPolicies(ctx context.Context) ([]domain.Policy, error)
	UpsertPolicy(ctx context.Context, p *domain.Policy) error
}

// MemoStore — In-memory cache политик тенантов. Hot Path шлюза работает
// только с RAM; синхронизация с БД идет через Refresh() и Pub/Sub сигнал
// инвалидации. Политики read-mostly, поэтому RWMutex, а не шардирование.
type MemoStore struct {
	mu       sync.RWMutex
	policies map[string]domain.Policy // orgID -> снапшот

	repo   Repository
	rdb    *redis.Client // nil в однонодовой конфигурации и тестах
	logger *zap.Logger
}

func NewMemoStore(repo Repository, rdb *redis.Client, logger *zap.Logger) *MemoStore {
	return &MemoStore{
		policies: make(map[string]domain.Policy),
		repo:     repo,
		rdb:      rdb,
		logger:   logger.Named("policy-store"),
	}
}

// Get возвращает снапшот политики тенанта или nil, если записи нет.
// Отсутствие записи PDP трактует как Default Deny (Zero Trust).
func (s *MemoStore) Get(orgID string) *domain.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.policies[orgID]; ok {
		cp := p
		return &cp
	}
	return nil
}

// Refresh выполняет «холодную загрузку» всех политик из БД в память.
// Вызывается при старте и на каждый сигнал инвалидации.
func (s *MemoStore) Refresh(ctx context.Context) error {
	fromDb, err := s.repo.GetAllPolicies(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]domain.Policy, len(fromDb))
	for _, p := range fromDb {
		next[p.OrganizationID] = p
	}

	s.mu.Lock()
	s.policies = next
	s.mu.Unlock()

	s.logger.Info("policy cache refreshed", zap.Int("count", len(next)))
	return nil
}

// Upsert — единственный путь мутации политики (last-write-wins).
// Персистим, обновляем локальный кэш и рассылаем сигнал остальным шлюзам.
func (s *MemoStore) Upsert(ctx context.Context, p *domain.Policy) error {
	p.UpdatedAt = time.Now()
	if err := s.repo.UpsertPolicy(ctx, p); err != nil {
		return err
	}

	s.mu.Lock()
	s.policies[p.OrganizationID] = *p
	s.mu.Unlock()

	return s.notifyUpdate(ctx)
}

// GetPersisted читает политику напрямую из БД (для Console API,
// где нужна актуальная версия, а не снапшот шлюза).
func (s *MemoStore) GetPersisted(ctx context.Context, orgID string) (*domain.Policy, error) {
	return s.repo.GetPolicy(ctx, orgID)
}

// StartListener подписывается на сигнал инвалидации. При каждом
// переподключении выполняется полный Refresh — пропущенные сигналы
// не приводят к расхождению кэша.
func (s *MemoStore) StartListener(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	infra.ListenResilient(ctx, s.rdb, s.logger, infra.RedisChanPolicyUpdate,
		func() error { return s.Refresh(ctx) },
		func(payload string) {
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("policy refresh on signal failed", zap.Error(err))
			}
		},
	)
}

func (s *MemoStore) notifyUpdate(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	// Сигнал может быть простым "refresh": шлюз сам перечитает всю таблицу
	return s.rdb.Publish(ctx, infra.RedisChanPolicyUpdate, "refresh").Err()
}
