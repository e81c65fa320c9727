package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/guildwarden/internal/connectors"
	"github.com/xela07ax/guildwarden/internal/domain"
)

// Scanner прогоняет всю гильдию через диспетчер с паузой между участниками.
// Пауза — только про лимиты платформы: при нулевой задержке скан остается
// корректным, просто агрессивнее.
type Scanner struct {
	session    connectors.Session
	dispatcher *Dispatcher
	metrics    *Metrics
	limiter    *rate.Limiter
	pageSize   int
	logger     *zap.Logger
}

func NewScanner(
	session connectors.Session,
	dispatcher *Dispatcher,
	metrics *Metrics,
	memberDelay time.Duration,
	pageSize int,
	logger *zap.Logger,
) *Scanner {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if memberDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(memberDelay), 1)
	}
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Scanner{
		session:    session,
		dispatcher: dispatcher,
		metrics:    metrics,
		limiter:    limiter,
		pageSize:   pageSize,
		logger:     logger.Named("scanner"),
	}
}

// Scan перечисляет участников постранично. Сбой перечисления изолирован:
// скан этой гильдии прерывается, остальные гильдии не затронуты.
func (s *Scanner) Scan(ctx context.Context, g domain.GuildSnapshot) {
	s.logger.Info("guild scan started",
		zap.String("guild_id", g.ID), zap.String("guild", g.Name))

	after := ""
	scanned := 0
	for {
		page, err := s.session.FetchMembers(ctx, g.ID, after, s.pageSize)
		if err != nil {
			s.logger.Error("member enumeration failed, aborting scan",
				zap.String("guild_id", g.ID),
				zap.Int("scanned", scanned),
				zap.Error(err))
			return
		}
		if len(page) == 0 {
			break
		}

		for _, m := range page {
			if err := s.limiter.Wait(ctx); err != nil {
				// Отмена процесса посреди скана — штатный выход.
				return
			}
			s.dispatcher.Handle(ctx, m, g)
			scanned++
			after = m.ID
		}
		s.metrics.ScannedMembers.WithLabelValues(g.ID).Add(float64(len(page)))

		if len(page) < s.pageSize {
			break
		}
	}

	s.logger.Info("guild scan finished",
		zap.String("guild_id", g.ID), zap.Int("scanned", scanned))
}
