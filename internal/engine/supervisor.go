package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/guildwarden/internal/connectors"
	"github.com/xela07ax/guildwarden/internal/domain"
)

// ErrMaxAttempts — бюджет переподключений исчерпан. Отдельный сигнал для
// алертинга, не путать с ошибкой аутентификации.
var ErrMaxAttempts = errors.New("max reconnect attempts reached")

type SupervisorConfig struct {
	MaxAttempts       int           // бюджет попыток до FATAL
	ClosedBackoff     time.Duration // пауза после закрытия соединения
	FailureBackoff    time.Duration // пауза после неклассифицированного сбоя
	KeepaliveInterval time.Duration
}

// Supervisor владеет ран-лупом агента: держит сессию, раздает события
// диспетчеру и сканеру, переживает обрывы с ограниченным бэкоффом.
//
// Машина состояний:
//
//	STARTING -> CONNECTED           READY от гейтвея, сброс счетчика попыток
//	CONNECTED -> DISCONNECTED       уведомление об обрыве (транспорт может сам ожить)
//	DISCONNECTED -> CONNECTED       RESUMED, сброс счетчика
//	* -> RECONNECTING               сессия умерла; счетчик++, бэкофф по классу ошибки
//	* -> FATAL                      ошибка аутентификации или исчерпан бюджет попыток
//	* -> SHUTTING_DOWN              внешний сигнал; приоритетнее всего остального
type Supervisor struct {
	session    connectors.Session
	dispatcher *Dispatcher
	scanner    *Scanner
	stats      *Stats
	metrics    *Metrics
	cfg        SupervisorConfig
	logger     *zap.Logger

	// Инъекция сна для тестов бэкоффа.
	sleep func(ctx context.Context, d time.Duration) error

	keepStarted  bool
	keepStop     chan struct{}
	shutdownOnce sync.Once
}

func NewSupervisor(
	session connectors.Session,
	dispatcher *Dispatcher,
	scanner *Scanner,
	stats *Stats,
	metrics *Metrics,
	cfg SupervisorConfig,
	logger *zap.Logger,
) *Supervisor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.ClosedBackoff <= 0 {
		cfg.ClosedBackoff = 5 * time.Second
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = 10 * time.Second
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 5 * time.Minute
	}
	return &Supervisor{
		session:    session,
		dispatcher: dispatcher,
		scanner:    scanner,
		stats:      stats,
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger.Named("supervisor"),
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run крутит цикл «сессия -> сбой -> бэкофф -> сессия» до фатальной ошибки
// или отмены контекста. Отмена — это штатный shutdown и возврат nil.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.shutdown()

	for {
		s.setState(domain.StateStarting)
		err := s.runSession(ctx)

		if ctx.Err() != nil {
			s.setState(domain.StateShuttingDown)
			s.logger.Info("termination signal received, shutting down")
			return nil
		}

		if connectors.IsAuth(err) {
			s.setState(domain.StateFatal)
			s.logger.Error("authentication failed, not retrying", zap.Error(err))
			return err
		}

		attempts := s.stats.IncReconnect()
		s.metrics.ReconnectsTotal.Inc()
		s.setState(domain.StateReconnecting)

		if attempts >= s.cfg.MaxAttempts {
			s.setState(domain.StateFatal)
			// Отдельный сигнал от auth-фатала — операторам важно их различать.
			s.logger.Error("max attempts reached",
				zap.Int("attempts", attempts), zap.Error(err))
			return ErrMaxAttempts
		}

		// Чистое закрытие соединения обычно транзиентно — короткая пауза.
		// Неопознанный сбой может означать проблему глубже — длинная.
		backoff := s.cfg.FailureBackoff
		if connectors.IsClosed(err) {
			backoff = s.cfg.ClosedBackoff
		}
		s.logger.Warn("session lost, reconnecting",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		if err := s.sleep(ctx, backoff); err != nil {
			s.setState(domain.StateShuttingDown)
			s.logger.Info("termination signal received during backoff")
			return nil
		}
	}
}

// runSession живет, пока жив поток событий сессии.
func (s *Supervisor) runSession(ctx context.Context) error {
	events, err := s.session.Open(ctx)
	if err != nil {
		return err
	}
	defer s.session.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if serr := s.session.Err(); serr != nil {
					return serr
				}
				return &connectors.ClosedError{Cause: errors.New("event stream ended")}
			}
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, ev connectors.Event) {
	switch ev.Kind {
	case connectors.EventReady:
		s.stats.MarkConnected()
		s.metrics.SupervisorState.Set(float64(domain.StateConnected))
		s.logger.Info("session ready")
		// Таймер жив только при подтвержденной готовности сессии.
		s.startKeepalive()
		// Стартовые сканы не нужны отдельно: гейтвей присылает GUILD_JOINED
		// по каждой уже подключенной гильдии сразу после READY.

	case connectors.EventResumed:
		s.stats.MarkConnected()
		s.metrics.SupervisorState.Set(float64(domain.StateConnected))
		s.logger.Info("session resumed")

	case connectors.EventDisconnected:
		s.setState(domain.StateDisconnected)
		s.logger.Warn("session disconnected, waiting for transport resume")

	case connectors.EventGuildJoined:
		s.logger.Info("guild joined",
			zap.String("guild_id", ev.Guild.ID), zap.String("guild", ev.Guild.Name))
		s.scanner.Scan(ctx, ev.Guild)

	case connectors.EventMemberJoined, connectors.EventMemberUpdated:
		s.dispatcher.Handle(ctx, ev.Member, ev.Guild)
	}
}

func (s *Supervisor) setState(st domain.SupervisorState) {
	s.stats.SetState(st)
	s.metrics.SupervisorState.Set(float64(st))
}

// startKeepalive поднимает пятиминутный таймер, который читает статистику и
// RTT гейтвея. Повторные READY после переподключений таймер не дублируют.
func (s *Supervisor) startKeepalive() {
	if s.keepStarted {
		return
	}
	s.keepStarted = true
	s.keepStop = make(chan struct{})

	go func() {
		t := time.NewTicker(s.cfg.KeepaliveInterval)
		defer t.Stop()
		for {
			select {
			case <-s.keepStop:
				return
			case <-t.C:
				lat := s.session.Latency()
				s.metrics.GatewayLatency.Set(lat.Seconds())
				snap := s.stats.Snapshot(lat)
				s.logger.Info("keepalive",
					zap.String("state", snap.State),
					zap.String("uptime", snap.UptimeHuman),
					zap.Int("reconnects", snap.ReconnectAttempts),
					zap.Int64("latency_ms", snap.GatewayLatencyMs))
			}
		}
	}()
}

// shutdown гасит keepalive и сессию ровно один раз — по любому пути выхода
// из Run, включая фатальные.
func (s *Supervisor) shutdown() {
	s.shutdownOnce.Do(func() {
		if s.keepStarted {
			close(s.keepStop)
		}
		s.session.Close()
	})
}
