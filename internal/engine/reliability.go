package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/guildwarden/internal/connectors"
)

// ReliableSession декорирует Session защитной механикой REST-стороны:
// лимитер + предохранитель вокруг бана, throttle-aware ретраи вокруг
// уведомлений. Сам бан НЕ ретраится — повторную оценку участника дает
// следующее событие или скан.
type ReliableSession struct {
	connectors.Session
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliableSession(next connectors.Session) *ReliableSession {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "warden-platform",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует «закрыться»
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// Отказ в правах — не болезнь платформы, предохранитель не трогаем.
		IsSuccessful: func(err error) bool {
			return err == nil || connectors.IsPermission(err)
		},
	})

	// Страховочный лимитер поверх пейсинга сканера
	limiter := rate.NewLimiter(rate.Limit(10), 5)

	return &ReliableSession{
		Session: next,
		cb:      cb,
		limiter: limiter,
	}
}

func (w *ReliableSession) Ban(ctx context.Context, guildID, memberID, reason string, retentionDays int) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	_, err := w.cb.Execute(func() (interface{}, error) {
		tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return nil, w.Session.Ban(tCtx, guildID, memberID, reason, retentionDays)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &connectors.TransportError{Cause: err}
	}
	return err
}

func (w *ReliableSession) SendMessage(ctx context.Context, channelID, content string) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
		// Умный расчет задержки
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			// Если платформа вернула Retry-After — уважаем его
			var tErr *connectors.ThrottleError
			if errors.As(err, &tErr) {
				return tErr.RetryAfter
			}

			// В остальных случаях — стандартный экспоненциальный бэкофф
			return retry.BackOffDelay(n, err, config)
		}),
	)

	return r.Do(func() error {
		tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return w.Session.SendMessage(tCtx, channelID, content)
	})
}
