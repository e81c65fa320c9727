package connectors

import (
	"context"
	"time"

	"github.com/xela07ax/guildwarden/internal/domain"
)

// EventKind — вид уведомления от сессии платформы.
type EventKind string

const (
	EventReady         EventKind = "READY"
	EventDisconnected  EventKind = "DISCONNECTED"
	EventResumed       EventKind = "RESUMED"
	EventMemberJoined  EventKind = "MEMBER_JOINED"
	EventMemberUpdated EventKind = "MEMBER_UPDATED"
	EventGuildJoined   EventKind = "GUILD_JOINED"
)

// Event — уведомление жизненного цикла или членства.
// Member заполнен только для MEMBER_*, Guild — для MEMBER_* и GUILD_JOINED.
type Event struct {
	Kind   EventKind
	Guild  domain.GuildSnapshot
	Member domain.MemberSnapshot
}

// Session — поверхность платформенного клиента, которую потребляет ядро.
// Реализации: Gateway (боевая), MockSession (локальный прогон и тесты).
type Session interface {
	// Open устанавливает соединение и возвращает поток уведомлений.
	// Канал закрывается при потере соединения; причину отдает Err.
	Open(ctx context.Context) (<-chan Event, error)
	Close() error
	// Err — причина закрытия потока уведомлений (nil, если Close вызвали мы).
	Err() error

	// FetchMembers — страница участников гильдии (after — курсор, ID последнего).
	FetchMembers(ctx context.Context, guildID, after string, limit int) ([]domain.MemberSnapshot, error)
	FetchMember(ctx context.Context, guildID, memberID string) (domain.MemberSnapshot, error)
	// Ban удаляет участника из гильдии. retentionDays — сколько дней его
	// сообщений стереть (политика агента: всегда 0).
	Ban(ctx context.Context, guildID, memberID, reason string, retentionDays int) error
	FindChannelByName(ctx context.Context, guildID, name string) (domain.ChannelRef, bool)
	SendMessage(ctx context.Context, channelID, content string) error

	// Latency — текущий RTT heartbeat'а гейтвея.
	Latency() time.Duration
}
