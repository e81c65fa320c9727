package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/xela07ax/guildwarden/internal/domain"
)

// Статусы исполнения решения.
const (
	StatusExecuted = "EXECUTED" // бан применен
	StatusSkipped  = "SKIPPED"  // SKIP_* исход, действий не было
	StatusFailed   = "FAILED"   // бан решили, но вызов платформы упал
)

// DecisionEvent — запись append-only журнала решений.
type DecisionEvent struct {
	ID         string    `json:"id"` // UUID события
	GuildID    string    `json:"guild_id"`
	GuildName  string    `json:"guild_name"`
	MemberID   string    `json:"member_id"`
	MemberName string    `json:"member_name"`
	Outcome    string    `json:"outcome"` // BAN / SKIP_*
	Reason     string    `json:"reason"`
	MemberRank int       `json:"member_rank"`
	SelfRank   int       `json:"self_rank"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// FromDecision переводит вердикт движка в журнальную запись.
// Status по умолчанию SKIPPED, исполнитель уточняет его после действия.
func FromDecision(d domain.BanDecision) DecisionEvent {
	return DecisionEvent{
		ID:         uuid.New().String(),
		GuildID:    d.Guild.ID,
		GuildName:  d.Guild.Name,
		MemberID:   d.Member.ID,
		MemberName: d.Member.DisplayName,
		Outcome:    string(d.Outcome),
		Reason:     d.Reason,
		MemberRank: d.Member.Rank,
		SelfRank:   d.Guild.SelfRank,
		Status:     StatusSkipped,
		Timestamp:  d.At,
	}
}
