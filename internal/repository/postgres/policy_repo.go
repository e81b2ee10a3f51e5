package postgres

/*
Файл policy_repo.go отвечает за хранение правил безопасности тенантов.
Долговременное хранение отделено от горячей проверки: PDP работает с
RAM-кэшем (policy.MemoStore), сюда ходят только Refresh и Console API.
*/

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/aag-core/internal/domain"
)

func (s *Store) GetPolicy(ctx context.Context, orgID string) (*domain.Policy, error) {
	query := `
		SELECT organization_id, enabled, config, updated_by, updated_at
		FROM policies WHERE organization_id = $1`

	p := &domain.Policy{}
	err := s.pool.QueryRow(ctx, query, orgID).Scan(
		&p.OrganizationID, &p.Enabled, &p.Config, &p.UpdatedBy, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get policy: %w", err)
	}
	return p, nil
}

// GetAllPolicies выполняет "холодную загрузку" всего набора политик при старте.
func (s *Store) GetAllPolicies(ctx context.Context) ([]domain.Policy, error) {
	query := `SELECT organization_id, enabled, config, updated_by, updated_at FROM policies`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load policies: %w", err)
	}
	defer rows.Close()

	var results []domain.Policy
	for rows.Next() {
		var p domain.Policy
		if err := rows.Scan(&p.OrganizationID, &p.Enabled, &p.Config, &p.UpdatedBy, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan policy: %w", err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// UpsertPolicy — last-write-wins на уровне тенанта.
func (s *Store) UpsertPolicy(ctx context.Context, p *domain.Policy) error {
	query := `
		INSERT INTO policies (organization_id, enabled, config, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id) DO UPDATE
		SET enabled = EXCLUDED.enabled,
		    config = EXCLUDED.config,
		    updated_by = EXCLUDED.updated_by,
		    updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query, p.OrganizationID, p.Enabled, p.Config, p.UpdatedBy, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert policy: %w", err)
	}
	return nil
}
