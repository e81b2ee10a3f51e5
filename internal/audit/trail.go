package audit

/*
Файл trail.go реализует Audit Trail — движок сбора и персистентности
событий аудита, систему записи «что произошло и почему».

Ключевые особенности архитектуры:
- Non-blocking Logging: неблокирующий канал на пути записи, чтобы задержки
  БД не влияли на Response Time очереди команд.
- Idempotency: повторная запись с уже виденным idempotency_key отбрасывается
  на входе; вторая линия защиты — ON CONFLICT DO NOTHING в репозитории.
- Batching & Efficiency: накопление событий в памяти и пакетная запись
  (Bulk Insert) по таймеру или при достижении лимита батча.
- Drain Pattern & Graceful Shutdown: при остановке сервиса буфер вычитывается
  полностью (Final Flush), потерь при перезагрузке нет.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/aag-core/internal/infra"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться события.
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз.
	// Реализация обязана быть идемпотентной по idempotency_key.
	WriteBatch(ctx context.Context, events []AuditEvent) error
}

type Sink interface {
	Log(event AuditEvent)
}

type Trail struct {
	ch      chan AuditEvent  // Буфер для асинхронности
	repo    StorageInterface // Интерфейс для Postgres/ClickHouse
	logger  *zap.Logger
	metrics *infra.Metrics
	wg      sync.WaitGroup

	batchSize     int
	flushInterval time.Duration

	// Дедупликация: кольцевой набор недавних ключей
	seenMu   sync.Mutex
	seen     map[string]struct{}
	seenFIFO []string
	seenCap  int

	// Защита от Log после остановки
	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

type TrailOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	DedupeWindow  int // Сколько последних ключей помним
}

func NewTrail(repo StorageInterface, logger *zap.Logger, metrics *infra.Metrics, opts TrailOptions) *Trail {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = 8192
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Trail{
		ch:            make(chan AuditEvent, opts.BufferSize),
		repo:          repo,
		logger:        logger.Named("audit-trail"),
		metrics:       metrics,
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		seen:          make(map[string]struct{}, opts.DedupeWindow),
		seenCap:       opts.DedupeWindow,
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Даем крошечную паузу, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

// Log принимает событие в буфер. Никогда не блокирует вызывающего:
// при переполнении применяется Load Shedding с записью факта в логгер.
func (t *Trail) Log(event AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Идемпотентность по ключу: повтор — тихий no-op
	if event.IdempotencyKey != "" && t.alreadySeen(event.IdempotencyKey) {
		return
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case t.ch <- event:
		t.metrics.AuditBufferFill.Set(float64(len(t.ch)))
	default:
		// Канал переполнен (Backpressure) — фиксируем потерю в логгере,
		// чтобы данные не исчезли бесследно
		t.logger.Error("audit_buffer_overflow",
			zap.String("event_type", event.EventType),
			zap.String("session_id", event.SessionID),
		)
	}
}

func (t *Trail) alreadySeen(key string) bool {
	t.seenMu.Lock()
	defer t.seenMu.Unlock()

	if _, ok := t.seen[key]; ok {
		return true
	}
	t.seen[key] = struct{}{}
	t.seenFIFO = append(t.seenFIFO, key)
	if len(t.seenFIFO) > t.seenCap {
		oldest := t.seenFIFO[0]
		t.seenFIFO = t.seenFIFO[1:]
		delete(t.seen, oldest)
	}
	return false
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]AuditEvent, 0, t.batchSize)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст на остановке уже может быть закрыт
			if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
				t.logger.Error("audit flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки, финальный сброс, выход
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			t.metrics.AuditBufferFill.Set(float64(len(t.ch)))
			if len(batch) >= t.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
