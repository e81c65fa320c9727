package domain

import "time"

// Outcome — закрытый набор исходов проверки участника.
type Outcome string

const (
	OutcomeBan              Outcome = "BAN"
	OutcomeSkipNoRole       Outcome = "SKIP_NO_ROLE"
	OutcomeSkipNoPermission Outcome = "SKIP_NO_PERMISSION"
	OutcomeSkipRank         Outcome = "SKIP_RANK"
)

// PolicyConfig — единственная политика процесса: запрещенная роль.
// Задается на старте и не меняется до завершения.
type PolicyConfig struct {
	ProhibitedRoleID string `json:"prohibited_role_id"`
}

// BanDecision — результат работы движка политики. Никогда не персистится
// ядром напрямую, уходит только в лог-синк.
type BanDecision struct {
	Outcome Outcome        `json:"outcome"`
	Member  MemberSnapshot `json:"member"`
	Guild   GuildSnapshot  `json:"guild"`
	Reason  string         `json:"reason"`
	At      time.Time      `json:"at"`
}
