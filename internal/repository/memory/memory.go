// Package memory — хранилище в RAM с теми же контрактами, что и
// postgres.Store. Используется в тестах и однонодовом dev-режиме.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xela07ax/aag-core/internal/audit"
	"github.com/xela07ax/aag-core/internal/domain"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	commands map[string]map[string]domain.Command // sessionID -> commandID -> command
	byIdem   map[string]map[string]string         // sessionID -> idempotencyKey -> commandID
	policies map[string]domain.Policy
	users    map[string]domain.User // username -> user
	auditLog []audit.AuditEvent
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]domain.Session),
		commands: make(map[string]map[string]domain.Command),
		byIdem:   make(map[string]map[string]string),
		policies: make(map[string]domain.Policy),
		users:    make(map[string]domain.User),
	}
}

// --- Sessions ---

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := sess
	return &cp, nil
}

func (s *Store) UpdateSessionState(ctx context.Context, id string, state domain.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	sess.State = state
	s.sessions[id] = sess
	return nil
}

// --- Commands ---

func (s *Store) CreateCommand(ctx context.Context, cmd *domain.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commands[cmd.SessionID] == nil {
		s.commands[cmd.SessionID] = make(map[string]domain.Command)
		s.byIdem[cmd.SessionID] = make(map[string]string)
	}
	s.commands[cmd.SessionID][cmd.CommandID] = *cmd
	s.byIdem[cmd.SessionID][cmd.IdempotencyKey] = cmd.CommandID
	return nil
}

func (s *Store) GetCommand(ctx context.Context, sessionID, commandID string) (*domain.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cmd, ok := s.commands[sessionID][commandID]
	if !ok {
		return nil, domain.ErrCommandNotFound
	}
	cp := cmd
	return &cp, nil
}

func (s *Store) GetCommandByIdempotencyKey(ctx context.Context, sessionID, key string) (*domain.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIdem[sessionID][key]
	if !ok {
		return nil, nil
	}
	cmd := s.commands[sessionID][id]
	cp := cmd
	return &cp, nil
}

func (s *Store) UpdateCommand(ctx context.Context, cmd *domain.Command, expect domain.CommandStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.commands[cmd.SessionID][cmd.CommandID]
	if !ok {
		return domain.ErrCommandNotFound
	}
	if current.Status != expect {
		return domain.ErrStaleTransition
	}
	s.commands[cmd.SessionID][cmd.CommandID] = *cmd
	return nil
}

func (s *Store) ListCommands(ctx context.Context, sessionID string) ([]domain.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Command, 0, len(s.commands[sessionID]))
	for _, cmd := range s.commands[sessionID] {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListQueuedCommands(ctx context.Context, limit int) ([]domain.Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Command, 0)
	for _, perSession := range s.commands {
		for _, cmd := range perSession {
			if cmd.Status == domain.CommandQueued {
				out = append(out, cmd)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Policies ---

func (s *Store) GetPolicy(ctx context.Context, orgID string) (*domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[orgID]
	if !ok {
		return nil, domain.ErrPolicyNotFound
	}
	cp := p
	return &cp, nil
}

func (s *Store) GetAllPolicies(ctx context.Context) ([]domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) UpsertPolicy(ctx context.Context, p *domain.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.OrganizationID] = *p
	return nil
}

// --- Users ---

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	cp := u
	return &cp, nil
}

func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Username] = u
}

// --- Audit ---

func (s *Store) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLog = append(s.auditLog, events...)
	return nil
}

// AuditEvents возвращает копию журнала (для тестов).
func (s *Store) AuditEvents() []audit.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.AuditEvent, len(s.auditLog))
	copy(out, s.auditLog)
	return out
}
