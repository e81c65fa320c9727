package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/guildwarden/internal/audit"
	"github.com/xela07ax/guildwarden/internal/connectors"
	"github.com/xela07ax/guildwarden/internal/console/handler"
	"github.com/xela07ax/guildwarden/internal/console/server"
	"github.com/xela07ax/guildwarden/internal/console/service"
	"github.com/xela07ax/guildwarden/internal/domain"
	"github.com/xela07ax/guildwarden/internal/engine"
	"github.com/xela07ax/guildwarden/internal/infra"
	"github.com/xela07ax/guildwarden/internal/infra/auth"
	"github.com/xela07ax/guildwarden/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст процесса: SIGINT/SIGTERM — штатное завершение
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Журнал решений: Postgres, если сконфигурирован, иначе процесс-лог
	var storage audit.StorageInterface
	if cfg.Database.URL != "" {
		repo, err := postgres.NewDecisionRepo(cfg.Database.URL)
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := repo.Ping(pingCtx); err != nil {
			cancel()
			logger.Fatal("database unreachable", zap.Error(err))
		}
		cancel()
		defer repo.Close()
		storage = repo
		logger.Info("decision journal: postgres")
	} else {
		storage = &audit.LogStorage{Logger: logger}
		logger.Info("decision journal: process log only")
	}

	sink := audit.NewSink(storage, logger, cfg.Audit.BufferSize, cfg.Audit.FlushInterval)
	sink.Start()
	defer sink.Stop()

	// 3. Control Plane: kill-switch через Redis, если сконфигурирован
	var ks *engine.KillSwitch
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ks = engine.NewKillSwitch(rdb, logger)
		if err := ks.Init(ctx); err != nil {
			logger.Fatal("kill-switch init failed", zap.Error(err))
		}
		go ks.StartListener(ctx)
	}

	// 4. Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)
	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			logger.Info("metrics endpoint started", zap.String("addr", cfg.Metrics.Addr))
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}
	// Backpressure буфера журнала в gauge
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				metrics.AuditBufferFill.Set(float64(sink.BufferFill()))
			}
		}
	}()

	// 5. Execution Layer: гейтвей платформы + защитная обертка
	gw := connectors.NewGateway(connectors.GatewayConfig{
		Token:      cfg.Platform.Token,
		GatewayURL: cfg.Platform.GatewayURL,
		APIBase:    cfg.Platform.APIBase,
	}, logger)
	session := engine.NewReliableSession(gw)

	policyCfg := domain.PolicyConfig{ProhibitedRoleID: cfg.Policy.ProhibitedRoleID}
	dispatcher := engine.NewDispatcher(session, policyCfg, sink, metrics, ks,
		cfg.Policy.AuditChannel, logger)
	scanner := engine.NewScanner(session, dispatcher, metrics,
		cfg.Scanner.MemberDelay, cfg.Scanner.PageSize, logger)
	stats := engine.NewStats()
	sup := engine.NewSupervisor(session, dispatcher, scanner, stats, metrics, engine.SupervisorConfig{
		MaxAttempts:       cfg.Supervisor.MaxAttempts,
		ClosedBackoff:     cfg.Supervisor.ClosedBackoff,
		FailureBackoff:    cfg.Supervisor.FailureBackoff,
		KeepaliveInterval: cfg.Supervisor.KeepaliveInterval,
	}, logger)

	// 6. Console API — только при полном комплекте RSA ключей и админа
	if srv := buildConsole(cfg, logger, stats, session, gw, ks, policyCfg); srv != nil {
		httpSrv := &http.Server{
			Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
			Handler:      srv,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			logger.Info("console api started", zap.String("addr", httpSrv.Addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("console api failed", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
		}()
	} else {
		logger.Info("console api disabled: auth keys or admin not configured")
	}

	// 7. Ран-луп агента. Отмена контекста — успех, фатальная ошибка — код 1.
	if err := sup.Run(ctx); err != nil {
		logger.Error("agent terminated", zap.Error(err))
		sink.Stop()
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("agent exited properly")
}

// buildConsole собирает админку. Возвращает nil, если она не сконфигурирована.
func buildConsole(
	cfg *infra.Config,
	logger *zap.Logger,
	stats *engine.Stats,
	session connectors.Session,
	guilds handler.GuildLister,
	ks *engine.KillSwitch,
	policyCfg domain.PolicyConfig,
) *server.ConsoleServer {
	if len(cfg.Auth.PublicKey) == 0 || len(cfg.Auth.PrivateKey) == 0 || cfg.Auth.AdminPasswordHash == "" {
		return nil
	}

	pubKey, privKey, err := auth.LoadKeyPair(cfg.Auth.PublicKey, cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("console keys invalid", zap.Error(err))
	}

	admin := domain.AdminUser{
		Username:     cfg.Auth.AdminUsername,
		PasswordHash: cfg.Auth.AdminPasswordHash,
		Scopes:       map[string]bool{"admin": true},
	}
	authSvc := service.NewAuthService(admin, pubKey, privKey, cfg.Auth.TokenTTL)

	// Типизированный nil в интерфейсе сломал бы проверку pause != nil
	var pause handler.PauseReader
	if ks != nil {
		pause = ks
	}
	statusH := handler.NewStatusHandler(stats, session, guilds, pause, policyCfg, logger)

	return server.NewConsoleServer(logger, authSvc, handler.NewAuthHandler(authSvc), statusH)
}
