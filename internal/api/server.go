// Package api — HTTP-поверхность шлюза (data plane). Здесь только
// транспорт: авторизация токеном, парсинг и маппинг доменных ошибок
// в статусы. Вся семантика живет в queue.Service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/aag-core/internal/infra/auth"
	"github.com/xela07ax/aag-core/internal/queue"
	"github.com/xela07ax/aag-core/internal/registry"
	"github.com/xela07ax/aag-core/internal/runtime"
)

type Server struct {
	router *chi.Mux
	logger *zap.Logger

	queue    *queue.Service
	tools    *registry.Registry
	runtime  *runtime.Runtime
	validate auth.TokenValidator
}

func NewServer(q *queue.Service, tools *registry.Registry, rt *runtime.Runtime, validator auth.TokenValidator, logger *zap.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger.Named("gateway-api"),
		queue:    q,
		tools:    tools,
		runtime:  rt,
		validate: validator,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.validate, s.logger))

		// Каталог инструментов (read-only справочник)
		r.Get("/v1/tools", s.handleListTools)

		// Сессии и командная очередь
		r.Route("/v1/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Post("/commands", s.handleEnqueue)
				r.Post("/commands/preview", s.handlePreview)
				r.Post("/commands/{commandID}/confirm", s.handleConfirm)
				r.Post("/commands/{commandID}/result", s.handleSubmitResult)
				r.Post("/macros", s.handleDispatchMacro)
			})
		})

		// События рантайма (последние решения агентов)
		r.Get("/v1/events", s.handleRecentEvents)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
