package policy

import (
	"fmt"
	"time"

	"github.com/xela07ax/guildwarden/internal/domain"
)

// Evaluate — чистая функция принятия решения: участник + гильдия -> вердикт.
// Никакого I/O, все побочные эффекты (логи, бан, уведомления) — на вызывающем.
//
// Порядок проверок фиксирован:
//  1. Нет права банить -> SKIP_NO_PERMISSION
//  2. Нет запрещенной роли -> SKIP_NO_ROLE (самая частая и дешевая ветка)
//  3. Ранг участника >= ранга агента -> SKIP_RANK
//  4. Иначе -> BAN
func Evaluate(m domain.MemberSnapshot, g domain.GuildSnapshot, cfg domain.PolicyConfig) domain.BanDecision {
	d := domain.BanDecision{
		Member: m,
		Guild:  g,
		At:     time.Now(),
	}

	if !g.BanAuthority {
		d.Outcome = domain.OutcomeSkipNoPermission
		d.Reason = fmt.Sprintf("missing ban permission in guild %s", g.ID)
		return d
	}

	if !m.HasRole(cfg.ProhibitedRoleID) {
		d.Outcome = domain.OutcomeSkipNoRole
		d.Reason = "prohibited role not held"
		return d
	}

	// Бан равного или вышестоящего либо провалится, либо — хуже — пройдет.
	// Сюда же попадает и сам агент.
	if m.Rank >= g.SelfRank {
		d.Outcome = domain.OutcomeSkipRank
		d.Reason = fmt.Sprintf("member rank %d >= agent rank %d", m.Rank, g.SelfRank)
		return d
	}

	d.Outcome = domain.OutcomeBan
	d.Reason = fmt.Sprintf("auto-ban: member holds prohibited role %s", cfg.ProhibitedRoleID)
	return d
}
