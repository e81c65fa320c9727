package engine

import (
	"sync"
	"time"

	"github.com/xela07ax/guildwarden/internal/domain"
)

// Stats — счетчики процесса. Мутирует их только супервизор; консоль и
// keepalive читают снапшоты, поэтому вопреки однопоточной модели ядра
// здесь все-таки стоит RWMutex.
type Stats struct {
	mu                sync.RWMutex
	state             domain.SupervisorState
	connectedAt       time.Time
	reconnectAttempts int
}

func NewStats() *Stats {
	return &Stats{state: domain.StateStarting}
}

func (s *Stats) SetState(st domain.SupervisorState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Stats) State() domain.SupervisorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// MarkConnected фиксирует вход в CONNECTED: аптайм отсчитывается от текущей
// сессии, счетчик попыток обнуляется.
func (s *Stats) MarkConnected() {
	s.mu.Lock()
	s.state = domain.StateConnected
	s.connectedAt = time.Now()
	s.reconnectAttempts = 0
	s.mu.Unlock()
}

// IncReconnect увеличивает счетчик попыток и возвращает новое значение.
func (s *Stats) IncReconnect() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectAttempts++
	return s.reconnectAttempts
}

func (s *Stats) ReconnectAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconnectAttempts
}

func (s *Stats) Snapshot(latency time.Duration) domain.StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var uptime time.Duration
	if !s.connectedAt.IsZero() && s.state == domain.StateConnected {
		uptime = time.Since(s.connectedAt)
	}
	return domain.StatsSnapshot{
		State:             s.state.String(),
		ConnectedAt:       s.connectedAt,
		Uptime:            uptime,
		UptimeHuman:       uptime.Round(time.Second).String(),
		ReconnectAttempts: s.reconnectAttempts,
		GatewayLatencyMs:  latency.Milliseconds(),
	}
}
