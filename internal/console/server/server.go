package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/guildwarden/internal/console/handler"
	"github.com/xela07ax/guildwarden/internal/infra/auth"
)

// ConsoleServer — встроенная админка агента: выдача токенов и read-only
// наблюдение. Никаких мутирующих операций здесь нет, пауза включается
// через Redis-сигнал.
type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка токенов (RS256), реализуется через embedding
	// RS256Validator в AuthService
	authValidator auth.TokenValidator

	authHandler   *handler.AuthHandler   // /auth/token
	statusHandler *handler.StatusHandler // /v1/status, /v1/uptime, /v1/rolecheck
}

func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	statusH *handler.StatusHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		authValidator: validator,
		authHandler:   authH,
		statusHandler: statusH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен + скоуп admin) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		r.Use(auth.RequireScope("admin"))

		r.Get("/v1/status", s.statusHandler.GetStatus)
		r.Get("/v1/uptime", s.statusHandler.GetUptime)
		r.Get("/v1/rolecheck", s.statusHandler.RoleCheck)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
