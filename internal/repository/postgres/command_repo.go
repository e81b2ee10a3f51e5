package postgres

/*
Файл command_repo.go хранит командную очередь. Переходы статуса пишутся
только через compare-and-set по текущему статусу: два шлюза, решившие
судьбу одной команды одновременно, не затрут друг друга.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/aag-core/internal/domain"
)

const commandColumns = `
	session_id, command_id, tool_name, status, requires_confirmation,
	approved_by, approved_at, policy_reason, request_payload, result_payload,
	idempotency_key, correlation_id, created_at, updated_at`

func (s *Store) CreateCommand(ctx context.Context, cmd *domain.Command) error {
	query := `
		INSERT INTO commands (` + commandColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.pool.Exec(ctx, query,
		cmd.SessionID, cmd.CommandID, cmd.Tool, cmd.Status, cmd.RequiresConfirmation,
		cmd.ApprovedBy, cmd.ApprovedAt, cmd.PolicyReason, cmd.RequestPayload, cmd.ResultPayload,
		cmd.IdempotencyKey, cmd.CorrelationID, cmd.CreatedAt, cmd.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create command: %w", err)
	}
	return nil
}

func (s *Store) GetCommand(ctx context.Context, sessionID, commandID string) (*domain.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE session_id = $1 AND command_id = $2`

	row := s.pool.QueryRow(ctx, query, sessionID, commandID)
	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCommandNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get command: %w", err)
	}
	return cmd, nil
}

// GetCommandByIdempotencyKey возвращает (nil, nil), если записи нет —
// для очереди это сигнал «первая подача».
func (s *Store) GetCommandByIdempotencyKey(ctx context.Context, sessionID, key string) (*domain.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE session_id = $1 AND idempotency_key = $2`

	row := s.pool.QueryRow(ctx, query, sessionID, key)
	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to lookup idempotency key: %w", err)
	}
	return cmd, nil
}

// UpdateCommand применяет изменение только если текущий статус в БД
// равен expect. Ноль затронутых строк означает либо гонку переходов
// (ErrStaleTransition), либо отсутствие команды.
func (s *Store) UpdateCommand(ctx context.Context, cmd *domain.Command, expect domain.CommandStatus) error {
	query := `
		UPDATE commands
		SET status = $1,
		    approved_by = $2,
		    approved_at = $3,
		    result_payload = $4,
		    updated_at = $5
		WHERE session_id = $6 AND command_id = $7 AND status = $8`

	ct, err := s.pool.Exec(ctx, query,
		cmd.Status, cmd.ApprovedBy, cmd.ApprovedAt, cmd.ResultPayload, cmd.UpdatedAt,
		cmd.SessionID, cmd.CommandID, expect,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update command: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if _, getErr := s.GetCommand(ctx, cmd.SessionID, cmd.CommandID); getErr != nil {
			return getErr
		}
		return domain.ErrStaleTransition
	}
	return nil
}

func (s *Store) ListCommands(ctx context.Context, sessionID string) ([]domain.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE session_id = $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list commands: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]domain.Command, 0)
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan command: %w", err)
		}
		results = append(results, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// ListQueuedCommands — вход поллера исполнителя. FIFO по времени подачи.
func (s *Store) ListQueuedCommands(ctx context.Context, limit int) ([]domain.Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE status = $1 ORDER BY created_at LIMIT $2`

	rows, err := s.pool.Query(ctx, query, domain.CommandQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list queued commands: %w", err)
	}
	defer rows.Close()

	results := make([]domain.Command, 0)
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan command: %w", err)
		}
		results = append(results, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// BlockedCommand — строка очереди решений (Decision Queue) консоли:
// команда плюс контекст тенанта из сессии.
type BlockedCommand struct {
	domain.Command
	OrganizationID string `json:"organization_id"`
	APItemID       string `json:"ap_item_id"`
}

// ListBlockedCommands отдает команды тенанта, ждущие решения человека.
func (s *Store) ListBlockedCommands(ctx context.Context, orgID string, limit int) ([]BlockedCommand, error) {
	query := `
		SELECT c.session_id, c.command_id, c.tool_name, c.status, c.requires_confirmation,
		       c.approved_by, c.approved_at, c.policy_reason, c.request_payload, c.result_payload,
		       c.idempotency_key, c.correlation_id, c.created_at, c.updated_at,
		       s.organization_id, s.ap_item_id
		FROM commands c
		JOIN sessions s ON s.id = c.session_id
		WHERE s.organization_id = $1 AND c.status = $2
		ORDER BY c.created_at
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, orgID, domain.CommandBlocked, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list blocked commands: %w", err)
	}
	defer rows.Close()

	results := make([]BlockedCommand, 0)
	for rows.Next() {
		var rec BlockedCommand
		var approvedBy sql.NullString
		var approvedAt sql.NullTime

		err := rows.Scan(
			&rec.SessionID, &rec.CommandID, &rec.Tool, &rec.Status, &rec.RequiresConfirmation,
			&approvedBy, &approvedAt, &rec.PolicyReason, &rec.RequestPayload, &rec.ResultPayload,
			&rec.IdempotencyKey, &rec.CorrelationID, &rec.CreatedAt, &rec.UpdatedAt,
			&rec.OrganizationID, &rec.APItemID,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan blocked command: %w", err)
		}
		if approvedBy.Valid {
			val := approvedBy.String
			rec.ApprovedBy = &val
		}
		if approvedAt.Valid {
			val := approvedAt.Time
			rec.ApprovedAt = &val
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

func scanCommand(row pgx.Row) (*domain.Command, error) {
	var cmd domain.Command
	var approvedBy sql.NullString // Используем для обработки NULL из БД
	var approvedAt sql.NullTime

	err := row.Scan(
		&cmd.SessionID, &cmd.CommandID, &cmd.Tool, &cmd.Status, &cmd.RequiresConfirmation,
		&approvedBy, &approvedAt, &cmd.PolicyReason, &cmd.RequestPayload, &cmd.ResultPayload,
		&cmd.IdempotencyKey, &cmd.CorrelationID, &cmd.CreatedAt, &cmd.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if approvedBy.Valid {
		val := approvedBy.String
		cmd.ApprovedBy = &val
	}
	if approvedAt.Valid {
		val := approvedAt.Time
		cmd.ApprovedAt = &val
	}
	return &cmd, nil
}
