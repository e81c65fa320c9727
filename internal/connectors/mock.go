package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/guildwarden/internal/domain"
)

// MockSession — сценарная реализация Session для локальных прогонов и тестов.
// События вбрасываются через Emit, обрыв соединения — через Fail.
type MockSession struct {
	mu sync.Mutex

	GuildList []domain.GuildSnapshot
	Members   map[string][]domain.MemberSnapshot // guildID -> участники по порядку
	Channels  map[string]domain.ChannelRef       // guildID -> audit-канал

	// Инъекция отказов.
	OpenErr   error
	FetchErr  error
	BanErrFor map[string]error // memberID -> ошибка бана

	// Запись вызовов для проверок.
	BanCalls []BanCall
	Messages []SentMessage

	PingLatency time.Duration

	events chan Event
	closed bool
	err    error
}

type BanCall struct {
	GuildID       string
	MemberID      string
	Reason        string
	RetentionDays int
	At            time.Time
}

type SentMessage struct {
	ChannelID string
	Content   string
}

func NewMockSession() *MockSession {
	return &MockSession{
		Members:     make(map[string][]domain.MemberSnapshot),
		Channels:    make(map[string]domain.ChannelRef),
		BanErrFor:   make(map[string]error),
		PingLatency: 42 * time.Millisecond,
	}
}

func (m *MockSession) Open(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	m.events = make(chan Event, 64)
	m.closed = false
	m.err = nil
	return m.events, nil
}

func (m *MockSession) Close() error {
	m.finish(nil)
	return nil
}

func (m *MockSession) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Emit вбрасывает событие в открытую сессию. Отправка идет под тем же
// мьютексом, что и finish: канал не может закрыться между проверкой и send.
// Переполненный буфер роняет событие, как и боевой гейтвей.
func (m *MockSession) Emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil || m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
	}
}

// Fail имитирует обрыв сессии с заданной причиной.
func (m *MockSession) Fail(cause error) {
	m.finish(cause)
}

func (m *MockSession) finish(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.err = cause
	if m.events != nil {
		close(m.events)
	}
}

func (m *MockSession) FetchMembers(ctx context.Context, guildID, after string, limit int) ([]domain.MemberSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	all := m.Members[guildID]
	start := 0
	if after != "" {
		for i, mem := range all {
			if mem.ID == after {
				start = i + 1
				break
			}
		}
	}
	if start >= len(all) {
		return nil, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := make([]domain.MemberSnapshot, end-start)
	copy(page, all[start:end])
	return page, nil
}

func (m *MockSession) FetchMember(ctx context.Context, guildID, memberID string) (domain.MemberSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.Members[guildID] {
		if mem.ID == memberID {
			return mem, nil
		}
	}
	return domain.MemberSnapshot{}, &TransportError{Cause: fmt.Errorf("member %s not found", memberID)}
}

func (m *MockSession) Ban(ctx context.Context, guildID, memberID, reason string, retentionDays int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BanCalls = append(m.BanCalls, BanCall{
		GuildID:       guildID,
		MemberID:      memberID,
		Reason:        reason,
		RetentionDays: retentionDays,
		At:            time.Now(),
	})
	if err, ok := m.BanErrFor[memberID]; ok {
		return err
	}
	return nil
}

// BanCallCount — потокобезопасный счетчик для конкурентных тестов.
func (m *MockSession) BanCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.BanCalls)
}

func (m *MockSession) BanCallAt(i int) BanCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.BanCalls[i]
}

// Guilds повторяет интерфейс гейтвея для консоли.
func (m *MockSession) Guilds() []domain.GuildSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.GuildSnapshot(nil), m.GuildList...)
}

func (m *MockSession) FindChannelByName(ctx context.Context, guildID, name string) (domain.ChannelRef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.Channels[guildID]
	if !ok || ch.Name != name {
		return domain.ChannelRef{}, false
	}
	return ch, true
}

func (m *MockSession) SendMessage(ctx context.Context, channelID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, SentMessage{ChannelID: channelID, Content: content})
	return nil
}

func (m *MockSession) Latency() time.Duration {
	return m.PingLatency
}
