package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xela07ax/guildwarden/internal/connectors"
	"github.com/xela07ax/guildwarden/internal/domain"
)

// scriptStep описывает одну «жизнь» сессии: какие события она отдаст и чем
// закончится. hold держит поток открытым до отмены контекста.
type scriptStep struct {
	events []connectors.Event
	err    error
	hold   bool
}

type scriptSession struct {
	*connectors.MockSession
	mu     sync.Mutex
	steps  []scriptStep
	opens  int
	closes int
	err    error
}

func newScriptSession(steps ...scriptStep) *scriptSession {
	return &scriptSession{MockSession: connectors.NewMockSession(), steps: steps}
}

func (s *scriptSession) Open(ctx context.Context) (<-chan connectors.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++

	step := scriptStep{hold: true}
	if len(s.steps) > 0 {
		step = s.steps[0]
		s.steps = s.steps[1:]
	}

	ch := make(chan connectors.Event, len(step.events)+1)
	for _, ev := range step.events {
		ch <- ev
	}
	if step.hold {
		s.err = nil
	} else {
		s.err = step.err
		close(ch)
	}
	return ch, nil
}

func (s *scriptSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *scriptSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *scriptSession) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *scriptSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// sleepRecorder подменяет сон супервизора и записывает задержки вместе со
// значением счетчика попыток на момент бэкоффа.
type sleepRecorder struct {
	mu       sync.Mutex
	delays   []time.Duration
	attempts []int
	stats    *Stats
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.attempts = append(r.attempts, r.stats.ReconnectAttempts())
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) snapshot() ([]time.Duration, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...), append([]int(nil), r.attempts...)
}

func testCfg() SupervisorConfig {
	return SupervisorConfig{
		MaxAttempts:       10,
		ClosedBackoff:     5 * time.Second,
		FailureBackoff:    10 * time.Second,
		KeepaliveInterval: time.Hour,
	}
}

func newTestSupervisor(t *testing.T, sess connectors.Session, cfg SupervisorConfig) (*Supervisor, *Stats, *sleepRecorder) {
	t.Helper()
	stats := NewStats()
	metrics := NewMetrics(nil)
	d := NewDispatcher(sess, domain.PolicyConfig{ProhibitedRoleID: prohibitedRole},
		&memAuditor{}, metrics, nil, "", zaptest.NewLogger(t))
	sc := NewScanner(sess, d, metrics, 0, 1000, zaptest.NewLogger(t))
	sup := NewSupervisor(sess, d, sc, stats, metrics, cfg, zaptest.NewLogger(t))

	rec := &sleepRecorder{stats: stats}
	sup.sleep = rec.sleep
	return sup, stats, rec
}

func closedFailure() scriptStep {
	return scriptStep{err: &connectors.ClosedError{Cause: errors.New("ws closed")}}
}

// Бюджет переподключений: при maximum=10 супервизор падает в FATAL ровно на
// десятой попытке и не открывает одиннадцатую сессию.
func TestSupervisorReconnectBound(t *testing.T) {
	var steps []scriptStep
	for i := 0; i < 15; i++ {
		steps = append(steps, closedFailure())
	}
	sess := newScriptSession(steps...)
	sup, stats, rec := newTestSupervisor(t, sess, testCfg())

	err := sup.Run(context.Background())

	require.ErrorIs(t, err, ErrMaxAttempts)
	assert.Equal(t, 10, sess.openCount(), "no 11th reconnect")
	delays, _ := rec.snapshot()
	assert.Len(t, delays, 9, "no backoff after the fatal attempt")
	assert.Equal(t, domain.StateFatal, stats.State())
	assert.Equal(t, 10, stats.ReconnectAttempts())
}

// Дифференциация бэкоффа: закрытое соединение — 5с, неопознанный сбой — 10с.
func TestSupervisorBackoffDifferentiation(t *testing.T) {
	sess := newScriptSession(
		closedFailure(),
		scriptStep{err: errors.New("unexpected failure")},
		scriptStep{err: &connectors.AuthError{Cause: errors.New("invalid token")}},
	)
	sup, stats, rec := newTestSupervisor(t, sess, testCfg())

	err := sup.Run(context.Background())

	require.True(t, connectors.IsAuth(err))
	delays, _ := rec.snapshot()
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, delays)
	assert.Equal(t, domain.StateFatal, stats.State())
}

// Сценарий E: три подряд закрытия, затем успешный коннект —
// счетчик попыток проходит [1,2,3] и обнуляется на CONNECTED.
func TestSupervisorAttemptSequence(t *testing.T) {
	sess := newScriptSession(
		closedFailure(),
		closedFailure(),
		closedFailure(),
		scriptStep{events: []connectors.Event{{Kind: connectors.EventReady}}, hold: true},
	)
	sup, stats, rec := newTestSupervisor(t, sess, testCfg())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return stats.State() == domain.StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	_, attempts := rec.snapshot()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, 0, stats.ReconnectAttempts(), "counter resets on CONNECTED")

	cancel()
	require.NoError(t, <-done, "external termination exits with success")
}

// Ошибка аутентификации фатальна сразу: ни ретраев, ни бэкоффа.
func TestSupervisorAuthFailureFatal(t *testing.T) {
	sess := newScriptSession(scriptStep{err: &connectors.AuthError{Cause: errors.New("401")}})
	sup, stats, rec := newTestSupervisor(t, sess, testCfg())

	err := sup.Run(context.Background())

	require.True(t, connectors.IsAuth(err))
	assert.Equal(t, 1, sess.openCount())
	delays, _ := rec.snapshot()
	assert.Empty(t, delays)
	assert.Equal(t, domain.StateFatal, stats.State())
}

// Shutdown: сигнал гасит keepalive, закрывает сессию и выходит успехом —
// ровно один раз, без утекших горутин.
func TestSupervisorShutdownSequence(t *testing.T) {
	defer goleak.VerifyNone(t)

	sess := newScriptSession(scriptStep{
		events: []connectors.Event{{Kind: connectors.EventReady}},
		hold:   true,
	})
	cfg := testCfg()
	cfg.KeepaliveInterval = 10 * time.Millisecond // таймер реально тикает
	sup, stats, _ := newTestSupervisor(t, sess, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return stats.State() == domain.StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, domain.StateShuttingDown, stats.State())
	assert.GreaterOrEqual(t, sess.closeCount(), 1)
}

func TestSupervisorDisconnectThenResume(t *testing.T) {
	sess := newScriptSession(scriptStep{
		events: []connectors.Event{
			{Kind: connectors.EventReady},
			{Kind: connectors.EventDisconnected},
			{Kind: connectors.EventResumed},
		},
		hold: true,
	})
	sup, stats, _ := newTestSupervisor(t, sess, testCfg())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Резюм возвращает CONNECTED и держит счетчик на нуле.
	require.Eventually(t, func() bool {
		return stats.State() == domain.StateConnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, stats.ReconnectAttempts())

	cancel()
	require.NoError(t, <-done)
}

// GUILD_JOINED запускает полный скан гильдии через диспетчер.
func TestSupervisorScansOnGuildJoined(t *testing.T) {
	sess := newScriptSession(scriptStep{
		events: []connectors.Event{
			{Kind: connectors.EventReady},
			{Kind: connectors.EventGuildJoined, Guild: testGuild()},
		},
		hold: true,
	})
	sess.Members["g1"] = []domain.MemberSnapshot{
		testMember("u1", 1, prohibitedRole),
		testMember("u2", 1, "harmless"),
	}
	sup, _, _ := newTestSupervisor(t, sess, testCfg())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sess.BanCallCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "u1", sess.BanCallAt(0).MemberID)

	cancel()
	require.NoError(t, <-done)
}

// Живое событие об участнике уходит прямиком в диспетчер.
func TestSupervisorDispatchesMemberEvents(t *testing.T) {
	sess := newScriptSession(scriptStep{
		events: []connectors.Event{
			{Kind: connectors.EventReady},
			{Kind: connectors.EventMemberJoined,
				Guild:  testGuild(),
				Member: testMember("u9", 2, prohibitedRole)},
		},
		hold: true,
	})
	sup, _, _ := newTestSupervisor(t, sess, testCfg())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sess.BanCallCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "u9", sess.BanCallAt(0).MemberID)

	cancel()
	require.NoError(t, <-done)
}
