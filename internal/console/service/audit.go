package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/aag-core/internal/audit"
)

// AuditLogProvider описывает контракт для чтения данных аудита.
// Мы используем структуру AuditEvent из пакета audit, чтобы сохранить единую модель данных.
type AuditLogProvider interface {
	QueryAuditLog(ctx context.Context, orgID, sessionID, eventType string, limit int) ([]audit.AuditEvent, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

// FetchLogs запрашивает журнал с фильтрацией по сессии и типу события.
// Логика фильтрации (пустые строки или конкретные значения) инкапсулирована в репозитории.
func (s *AuditService) FetchLogs(ctx context.Context, orgID, sessionID, eventType string, limit int) ([]audit.AuditEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	logs, err := s.repo.QueryAuditLog(ctx, orgID, sessionID, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}
