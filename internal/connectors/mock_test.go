package connectors

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/guildwarden/internal/domain"
)

// Emit, гонящийся с Close, не должен попадать в закрытый канал.
func TestMockSessionEmitRacesClose(t *testing.T) {
	m := NewMockSession()
	events, err := m.Open(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			m.Emit(Event{Kind: EventMemberUpdated})
		}
	}()
	go func() {
		defer wg.Done()
		for range events {
		}
	}()

	require.NoError(t, m.Close())
	wg.Wait()

	// После закрытия Emit — тихий no-op.
	m.Emit(Event{Kind: EventReady})
}

func TestMockSessionFetchMembersPagination(t *testing.T) {
	m := NewMockSession()
	m.Members["g1"] = []domain.MemberSnapshot{
		{ID: "u1"}, {ID: "u2"}, {ID: "u3"}, {ID: "u4"}, {ID: "u5"},
	}

	page, err := m.FetchMembers(context.Background(), "g1", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "u1", page[0].ID)

	page, err = m.FetchMembers(context.Background(), "g1", "u4", 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "u5", page[0].ID)

	page, err = m.FetchMembers(context.Background(), "g1", "u5", 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}
