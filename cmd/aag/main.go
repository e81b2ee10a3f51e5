package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/aag-core/internal/api"
	"github.com/xela07ax/aag-core/internal/audit"
	"github.com/xela07ax/aag-core/internal/domain"
	"github.com/xela07ax/aag-core/internal/executor"
	"github.com/xela07ax/aag-core/internal/infra"
	"github.com/xela07ax/aag-core/internal/infra/auth"
	"github.com/xela07ax/aag-core/internal/macro"
	"github.com/xela07ax/aag-core/internal/policy"
	"github.com/xela07ax/aag-core/internal/queue"
	"github.com/xela07ax/aag-core/internal/registry"
	"github.com/xela07ax/aag-core/internal/repository/postgres"
	"github.com/xela07ax/aag-core/internal/runtime"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	// При срабатывании SIGTERM cancel() остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	if cfg.Database.URL == "" {
		logger.Fatal("database.url (или DATABASE_URL) is required")
	}
	store, err := postgres.NewStore(appCtx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer store.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := infra.NewMetrics(reg)

	// Экспортируем метрики для Prometheus
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 3. Аудит: асинхронный батчинг в Postgres
	trail := audit.NewTrail(store, logger, metrics, audit.TrailOptions{
		BufferSize:    cfg.Governance.AuditBufferSize,
		BatchSize:     cfg.Governance.AuditBatchSize,
		FlushInterval: cfg.Governance.AuditFlushInterval,
	})
	trail.Start()

	// 4. Политики: RAM-кэш + сигнал инвалидации
	memo := policy.NewMemoStore(store, rdb, logger)
	if err := memo.Refresh(appCtx); err != nil {
		logger.Fatal("policy cold load failed", zap.Error(err))
	}
	go memo.StartListener(appCtx)

	// 5. Ядро: PDP + макросы + командная очередь
	tools := registry.New()
	engine := policy.NewEngine(tools)
	expander := macro.NewExpander()
	qsvc := queue.NewService(store, store, memo, engine, expander, trail, logger, metrics)

	// HITL: решения операторов прилетают из консоли через Redis
	approvals := queue.NewApprovalListener(qsvc, rdb, logger)
	go approvals.Start(appCtx)

	// 6. Decision Runtime (агенты регистрируются встраивающим кодом)
	bus := runtime.NewBus(cfg.Governance.EventHistoryCap, logger, metrics)
	rt := runtime.New(bus, cfg.Governance.AgentMailboxSize, logger, metrics)

	killSwitch := runtime.NewKillSwitchListener(rt, rdb, logger)
	go killSwitch.Start(appCtx)

	// Эскалации — в лог, пока не подключен внешний нотификатор
	bus.Subscribe(runtime.EventTypeApprovalNeeded, "escalation-log", func(ctx context.Context, ev domain.Event) {
		logger.Warn("approval needed",
			zap.String("event_id", ev.EventID),
			zap.String("source", ev.Source),
			zap.Float64("confidence", ev.Confidence))
	})

	// 7. Исполнитель очереди: rate limit -> circuit breaker -> retry
	provider := executor.NewReliabilityWrapper(&executor.MockBrowserProvider{}, cfg.Governance)
	worker := executor.NewWorker(store, qsvc, provider, logger, metrics, cfg.Governance.ExecutorPollInterval)
	go worker.Run(appCtx)

	// 8. HTTP Server (data plane)
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key init failed", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(qsvc, tools, rt, validator, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("AAG gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("AAG gateway stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	cancel()                // Останавливаем слушателей и воркер
	rt.StopAll(shutdownCtx) // Агенты: stopped-события уйдут в шину
	trail.Stop()            // Дожимаем буфер аудита в Postgres
	logger.Info("AAG gateway exited properly")
}
