package audit

/*
Файл sink.go реализует append-only журнал решений агента.

Ключевые особенности архитектуры:
- Non-blocking Logging: неблокирующий канал между горячим путем диспетчера
  и воркером записи — задержки хранилища не тормозят обработку событий.
- Batching: накопление записей и пакетная вставка по лимиту или таймеру.
- Drain Pattern: при остановке канал закрывается, воркер дочитывает остатки
  и делает финальный flush — решения не теряются при завершении процесса.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются решения.
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз.
	WriteBatch(ctx context.Context, events []DecisionEvent) error
}

type Auditor interface {
	Log(event DecisionEvent)
}

type Sink struct {
	ch       chan DecisionEvent
	repo     StorageInterface
	logger   *zap.Logger
	wg       sync.WaitGroup
	batchMax int
	interval time.Duration
	isClosed int32 // атомарный флаг (0 — открыт, 1 — закрыт)
}

func NewSink(repo StorageInterface, logger *zap.Logger, bufSize int, flushInterval time.Duration) *Sink {
	if bufSize <= 0 {
		bufSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Sink{
		ch:       make(chan DecisionEvent, bufSize),
		repo:     repo,
		logger:   logger.With(zap.String("mod", "audit-sink")),
		batchMax: 100,
		interval: flushInterval,
	}
}

func (s *Sink) Start() {
	s.wg.Add(1)
	go s.worker()
}

// Stop запирает вход в канал и ждет, пока воркер допишет остатки.
func (s *Sink) Stop() {
	atomic.StoreInt32(&s.isClosed, 1)

	// Пауза, чтобы уже начатые Log успели проскочить.
	time.Sleep(10 * time.Millisecond)

	s.logger.Info("stopping audit sink: draining buffer")
	close(s.ch)
	s.wg.Wait()
	s.logger.Info("audit sink stopped")
}

// BufferFill — текущая заполненность буфера (для метрики backpressure).
func (s *Sink) BufferFill() int {
	return len(s.ch)
}

func (s *Sink) Log(event DecisionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&s.isClosed) == 1 {
		s.logger.Warn("decision dropped: sink is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении событие уходит хотя бы в процесс-лог.
	select {
	case s.ch <- event:
	default:
		s.logger.Error("audit_buffer_overflow",
			zap.String("guild_id", event.GuildID),
			zap.String("member_id", event.MemberID),
			zap.String("outcome", event.Outcome),
		)
	}
}

func (s *Sink) worker() {
	defer s.wg.Done()

	batch := make([]DecisionEvent, 0, s.batchMax)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст процесса к этому моменту может быть закрыт.
		if err := s.repo.WriteBatch(context.Background(), batch); err != nil {
			s.logger.Error("audit flush failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-s.ch:
			if !ok {
				// Канал закрыт в Stop: остатки уже вычитаны, финальный flush и выход.
				flush()
				s.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= s.batchMax {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// LogStorage — fallback-хранилище: пишет решения в процесс-лог.
// Используется, когда Postgres не сконфигурирован.
type LogStorage struct {
	Logger *zap.Logger
}

func (l *LogStorage) WriteBatch(_ context.Context, events []DecisionEvent) error {
	for _, e := range events {
		l.Logger.Info("decision",
			zap.String("id", e.ID),
			zap.String("guild_id", e.GuildID),
			zap.String("member_id", e.MemberID),
			zap.String("member_name", e.MemberName),
			zap.String("outcome", e.Outcome),
			zap.String("status", e.Status),
			zap.String("reason", e.Reason),
		)
	}
	return nil
}
