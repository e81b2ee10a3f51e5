package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/aag-core/internal/audit"
)

// WriteBatch вставляет пачку событий одним запросом. Конфликт по
// idempotency_key молча игнорируется: ретрай батча после сбоя не
// плодит дубликаты в журнале.
func (s *Store) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_log
	numFields := 11
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11)

		metadata, _ := json.Marshal(e.Metadata)

		vals = append(vals,
			e.ID, e.OrganizationID, e.APItemID, e.SessionID,
			e.EventType, e.ActorType, e.ActorID, e.Reason,
			metadata, e.IdempotencyKey, e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO audit_log (id, organization_id, ap_item_id, session_id, event_type, actor_type, actor_id, reason, metadata, idempotency_key, timestamp) VALUES %s ON CONFLICT (idempotency_key) DO NOTHING",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := s.pool.Exec(ctx, query, vals...)
	return err
}

// QueryAuditLog — выборка журнала для Console API с опциональными
// фильтрами по сессии и типу события.
func (s *Store) QueryAuditLog(ctx context.Context, orgID, sessionID, eventType string, limit int) ([]audit.AuditEvent, error) {
	query := `
		SELECT id, organization_id, ap_item_id, session_id, event_type, actor_type, actor_id, reason, metadata, idempotency_key, timestamp
		FROM audit_log WHERE organization_id = $1`

	args := []interface{}{orgID}
	if sessionID != "" {
		args = append(args, sessionID)
		query += fmt.Sprintf(" AND session_id = $%d", len(args))
	}
	if eventType != "" {
		args = append(args, eventType)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit log: %w", err)
	}
	defer rows.Close()

	results := make([]audit.AuditEvent, 0)
	for rows.Next() {
		var e audit.AuditEvent
		var metadata []byte
		err := rows.Scan(
			&e.ID, &e.OrganizationID, &e.APItemID, &e.SessionID,
			&e.EventType, &e.ActorType, &e.ActorID, &e.Reason,
			&metadata, &e.IdempotencyKey, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit event: %w", err)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &e.Metadata)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// GetGlobalStatsRaw собирает агрегаты для дашборда консоли одним проходом.
func (s *Store) GetGlobalStatsRaw(ctx context.Context, orgID string) (total, denied, pending int64, topTools map[string]int64, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'denied_policy'),
			COUNT(*) FILTER (WHERE status = 'blocked_for_approval')
		FROM commands c
		JOIN sessions s ON s.id = c.session_id
		WHERE s.organization_id = $1`, orgID).Scan(&total, &denied, &pending)
	if err != nil {
		return 0, 0, 0, nil, fmt.Errorf("postgres: failed to fetch stats: %w", err)
	}

	rows, qErr := s.pool.Query(ctx, `
		SELECT c.tool_name, COUNT(*)
		FROM commands c
		JOIN sessions s ON s.id = c.session_id
		WHERE s.organization_id = $1
		GROUP BY c.tool_name
		ORDER BY COUNT(*) DESC
		LIMIT 10`, orgID)
	if qErr != nil {
		return 0, 0, 0, nil, fmt.Errorf("postgres: failed to fetch top tools: %w", qErr)
	}
	defer rows.Close()

	topTools = make(map[string]int64)
	for rows.Next() {
		var tool string
		var count int64
		if err := rows.Scan(&tool, &count); err != nil {
			return 0, 0, 0, nil, fmt.Errorf("postgres: failed to scan tool stats: %w", err)
		}
		topTools[tool] = count
	}
	return total, denied, pending, topTools, rows.Err()
}
