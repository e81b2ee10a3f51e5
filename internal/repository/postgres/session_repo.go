package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/aag-core/internal/domain"
)

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	query := `
		INSERT INTO sessions (id, organization_id, ap_item_id, state, created_by, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		sess.ID, sess.OrganizationID, sess.APItemID, sess.State,
		sess.CreatedBy, sess.Metadata, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `
		SELECT id, organization_id, ap_item_id, state, created_by, metadata, created_at, updated_at
		FROM sessions WHERE id = $1`

	sess := &domain.Session{}
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&sess.ID, &sess.OrganizationID, &sess.APItemID, &sess.State,
		&sess.CreatedBy, &sess.Metadata, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get session: %w", err)
	}
	return sess, nil
}

func (s *Store) UpdateSessionState(ctx context.Context, id string, state domain.SessionState) error {
	query := `UPDATE sessions SET state = $1, updated_at = NOW() WHERE id = $2`

	ct, err := s.pool.Exec(ctx, query, state, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to update session state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}
