package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

type memStorage struct {
	mu      sync.Mutex
	batches [][]DecisionEvent
}

func (m *memStorage) WriteBatch(_ context.Context, events []DecisionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]DecisionEvent, len(events))
	copy(cp, events)
	m.batches = append(m.batches, cp)
	return nil
}

func (m *memStorage) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestSinkFlushesOnTicker(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &memStorage{}
	sink := NewSink(store, zaptest.NewLogger(t), 100, 20*time.Millisecond)
	sink.Start()

	sink.Log(DecisionEvent{ID: "e1", Outcome: "SKIP_NO_ROLE"})
	sink.Log(DecisionEvent{ID: "e2", Outcome: "BAN"})

	require.Eventually(t, func() bool { return store.total() == 2 },
		time.Second, 5*time.Millisecond)

	sink.Stop()
}

func TestSinkDrainsOnStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &memStorage{}
	// Большой интервал: flush может случиться только при дренаже.
	sink := NewSink(store, zaptest.NewLogger(t), 100, time.Hour)
	sink.Start()

	for i := 0; i < 25; i++ {
		sink.Log(DecisionEvent{Outcome: "BAN"})
	}
	sink.Stop()

	assert.Equal(t, 25, store.total(), "stop must flush everything buffered")
}

func TestSinkDropsAfterStop(t *testing.T) {
	store := &memStorage{}
	sink := NewSink(store, zaptest.NewLogger(t), 100, time.Hour)
	sink.Start()
	sink.Stop()

	// Не должно паниковать и не должно ничего дописать.
	sink.Log(DecisionEvent{Outcome: "BAN"})
	assert.Equal(t, 0, store.total())
}

func TestSinkStampsTimestamp(t *testing.T) {
	store := &memStorage{}
	sink := NewSink(store, zaptest.NewLogger(t), 10, time.Hour)
	sink.Start()

	sink.Log(DecisionEvent{Outcome: "BAN"})
	sink.Stop()

	require.Equal(t, 1, store.total())
	assert.False(t, store.batches[0][0].Timestamp.IsZero())
}
