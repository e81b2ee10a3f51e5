package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/aag-core/internal/console/handler"
	"github.com/xela07ax/aag-core/internal/console/server"
	"github.com/xela07ax/aag-core/internal/console/service"
	"github.com/xela07ax/aag-core/internal/infra"
	"github.com/xela07ax/aag-core/internal/infra/auth"
	"github.com/xela07ax/aag-core/internal/repository/postgres"
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

	// 2. Инициализация ресурсов
	if cfg.Database.URL == "" {
		logger.Fatal("database.url (или DATABASE_URL) is required")
	}

	ctx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	store, err := postgres.NewStore(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer store.Close()
	// Проверяем соединение с таймаутом
	if err := store.Ping(ctx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	cancelPing()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// 3. Криптография: консоль подписывает токены закрытым ключом
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("auth private key init failed", zap.Error(err))
	}
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key init failed", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	// 4. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(store, privKey, validator)
	policyService := service.NewPolicyService(store, rdb)
	approvalService := service.NewApprovalService(store, rdb, logger)
	auditService := service.NewAuditService(store)
	agentService := service.NewAgentService(store, rdb, logger)

	srv := server.NewConsoleServer(
		cfg,
		logger,
		authService,
		handler.NewAuthHandler(authService),
		handler.NewAgentHandler(agentService),
		handler.NewPolicyHandler(policyService),
		handler.NewApprovalHandler(approvalService),
		handler.NewAuditHandler(auditService),
	)

	// 5. Запуск сервера
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("Console API started", zap.String("addr", httpSrv.Addr))
	if err := httpSrv.ListenAndServe(); err != nil {
		logger.Fatal("listen failed", zap.Error(err))
	}
}
