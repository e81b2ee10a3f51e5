package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// batchRecorder собирает все записанные батчи.
type batchRecorder struct {
	mu     sync.Mutex
	events []AuditEvent
	err    error
}

func (r *batchRecorder) WriteBatch(_ context.Context, events []AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, events...)
	return nil
}

func (r *batchRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestTrail(repo StorageInterface, opts TrailOptions) *Trail {
	return NewTrail(repo, zap.NewNop(), nil, opts)
}

func TestStopDrainsBuffer(t *testing.T) {
	repo := &batchRecorder{}
	trail := newTestTrail(repo, TrailOptions{
		BufferSize:    100,
		BatchSize:     10,
		FlushInterval: time.Hour, // Только финальный сброс на Stop
	})
	trail.Start()

	for i := 0; i < 25; i++ {
		trail.Log(AuditEvent{
			OrganizationID: "org-1",
			EventType:      EventCommandEnqueued,
			IdempotencyKey: fmt.Sprintf("key-%d", i),
		})
	}
	trail.Stop()

	if got := repo.count(); got != 25 {
		t.Fatalf("expected all 25 events persisted after Stop, got %d", got)
	}
}

func TestDedupeByIdempotencyKey(t *testing.T) {
	repo := &batchRecorder{}
	trail := newTestTrail(repo, TrailOptions{BufferSize: 100, FlushInterval: time.Hour})
	trail.Start()

	for i := 0; i < 5; i++ {
		trail.Log(AuditEvent{EventType: EventCommandEnqueued, IdempotencyKey: "same-key"})
	}
	trail.Log(AuditEvent{EventType: EventCommandEnqueued, IdempotencyKey: "other-key"})
	trail.Stop()

	if got := repo.count(); got != 2 {
		t.Fatalf("repeats of the same key must collapse, got %d events", got)
	}
}

func TestEventsWithoutKeyNeverDeduped(t *testing.T) {
	repo := &batchRecorder{}
	trail := newTestTrail(repo, TrailOptions{BufferSize: 100, FlushInterval: time.Hour})
	trail.Start()

	for i := 0; i < 3; i++ {
		trail.Log(AuditEvent{EventType: EventCommandResult})
	}
	trail.Stop()

	if got := repo.count(); got != 3 {
		t.Fatalf("keyless events must all persist, got %d", got)
	}
}

func TestLogFillsEnvelope(t *testing.T) {
	repo := &batchRecorder{}
	trail := newTestTrail(repo, TrailOptions{BufferSize: 10, FlushInterval: time.Hour})
	trail.Start()

	trail.Log(AuditEvent{EventType: EventCommandEnqueued})
	trail.Stop()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(repo.events))
	}
	if repo.events[0].ID == "" || repo.events[0].Timestamp.IsZero() {
		t.Fatal("trail must assign id and timestamp")
	}
}

func TestBatchFlushBySize(t *testing.T) {
	repo := &batchRecorder{}
	trail := newTestTrail(repo, TrailOptions{BufferSize: 100, BatchSize: 5, FlushInterval: time.Hour})
	trail.Start()

	for i := 0; i < 5; i++ {
		trail.Log(AuditEvent{EventType: EventCommandEnqueued, IdempotencyKey: fmt.Sprintf("k-%d", i)})
	}

	// Батч полон — сброс случается без тикера и без Stop
	deadline := time.After(2 * time.Second)
	for repo.count() < 5 {
		select {
		case <-deadline:
			t.Fatalf("batch flush by size did not happen, persisted %d", repo.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
	trail.Stop()
}

func TestLogAfterStopIsDropped(t *testing.T) {
	repo := &batchRecorder{}
	trail := newTestTrail(repo, TrailOptions{BufferSize: 10, FlushInterval: time.Hour})
	trail.Start()
	trail.Stop()

	// Не должно паниковать записью в закрытый канал
	trail.Log(AuditEvent{EventType: EventCommandEnqueued})

	if got := repo.count(); got != 0 {
		t.Fatalf("expected 0 events, got %d", got)
	}
}
