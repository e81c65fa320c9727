package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xela07ax/guildwarden/internal/audit"
	"github.com/xela07ax/guildwarden/internal/connectors"
	"github.com/xela07ax/guildwarden/internal/domain"
)

const prohibitedRole = "role-666"

type memAuditor struct {
	mu     sync.Mutex
	events []audit.DecisionEvent
}

func (a *memAuditor) Log(e audit.DecisionEvent) {
	a.mu.Lock()
	a.events = append(a.events, e)
	a.mu.Unlock()
}

func (a *memAuditor) byStatus(status string) []audit.DecisionEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.DecisionEvent
	for _, e := range a.events {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func testGuild() domain.GuildSnapshot {
	return domain.GuildSnapshot{ID: "g1", Name: "guild", SelfRank: 10, BanAuthority: true}
}

func testMember(id string, rank int, roles ...string) domain.MemberSnapshot {
	return domain.MemberSnapshot{ID: id, DisplayName: "m-" + id, Roles: roles, Rank: rank}
}

func newTestDispatcher(t *testing.T, sess connectors.Session, ks *KillSwitch, channel string) (*Dispatcher, *memAuditor) {
	t.Helper()
	auditor := &memAuditor{}
	d := NewDispatcher(
		sess,
		domain.PolicyConfig{ProhibitedRoleID: prohibitedRole},
		auditor,
		NewMetrics(nil),
		ks,
		channel,
		zaptest.NewLogger(t),
	)
	return d, auditor
}

func TestDispatcherBansQualifyingMember(t *testing.T) {
	sess := connectors.NewMockSession()
	d, auditor := newTestDispatcher(t, sess, nil, "")

	d.Handle(context.Background(), testMember("u1", 3, prohibitedRole), testGuild())

	require.Len(t, sess.BanCalls, 1)
	call := sess.BanCalls[0]
	assert.Equal(t, "g1", call.GuildID)
	assert.Equal(t, "u1", call.MemberID)
	assert.Equal(t, 0, call.RetentionDays, "message retention must be zero")
	assert.Contains(t, call.Reason, prohibitedRole)

	executed := auditor.byStatus(audit.StatusExecuted)
	require.Len(t, executed, 1)
	assert.Equal(t, string(domain.OutcomeBan), executed[0].Outcome)
}

func TestDispatcherSkipVariantsIssueNoBan(t *testing.T) {
	cases := []struct {
		name    string
		member  domain.MemberSnapshot
		guild   domain.GuildSnapshot
		outcome domain.Outcome
	}{
		{"no role", testMember("u1", 3, "other"), testGuild(), domain.OutcomeSkipNoRole},
		{"outranks", testMember("u1", 15, prohibitedRole), testGuild(), domain.OutcomeSkipRank},
		{"no permission", testMember("u1", 3, prohibitedRole),
			domain.GuildSnapshot{ID: "g1", SelfRank: 10, BanAuthority: false},
			domain.OutcomeSkipNoPermission},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := connectors.NewMockSession()
			d, auditor := newTestDispatcher(t, sess, nil, "")

			d.Handle(context.Background(), tc.member, tc.guild)

			assert.Empty(t, sess.BanCalls)
			require.Len(t, auditor.events, 1)
			assert.Equal(t, string(tc.outcome), auditor.events[0].Outcome)
			assert.Equal(t, audit.StatusSkipped, auditor.events[0].Status)
		})
	}
}

// Идемпотентность: повторный вызов по уже забаненному участнику падает на
// границе платформы и не ломает состояние агента.
func TestDispatcherDoubleInvokeHarmless(t *testing.T) {
	sess := connectors.NewMockSession()
	sess.Members["g1"] = []domain.MemberSnapshot{testMember("u1", 3, prohibitedRole)}
	sess.BanErrFor["u1"] = &connectors.TransportError{Cause: errors.New("member already banned")}

	d, auditor := newTestDispatcher(t, sess, nil, "")
	stats := NewStats()
	before := stats.Snapshot(0)

	m, g := testMember("u1", 3, prohibitedRole), testGuild()
	d.Handle(context.Background(), m, g)
	d.Handle(context.Background(), m, g)

	assert.Len(t, sess.BanCalls, 2)
	assert.Len(t, auditor.byStatus(audit.StatusFailed), 2)
	assert.Equal(t, before, stats.Snapshot(0), "stats must be untouched by dispatcher failures")
}

func TestDispatcherPermissionErrorNotPropagated(t *testing.T) {
	sess := connectors.NewMockSession()
	sess.BanErrFor["u1"] = &connectors.PermissionError{Cause: errors.New("403")}
	d, auditor := newTestDispatcher(t, sess, nil, "")

	// Не должно паниковать и не должно ничего ретраить.
	d.Handle(context.Background(), testMember("u1", 3, prohibitedRole), testGuild())

	assert.Len(t, sess.BanCalls, 1)
	require.Len(t, auditor.byStatus(audit.StatusFailed), 1)
}

func TestDispatcherNotifiesAuditChannel(t *testing.T) {
	sess := connectors.NewMockSession()
	sess.Channels["g1"] = domain.ChannelRef{ID: "c1", Name: "mod-log"}
	d, _ := newTestDispatcher(t, sess, nil, "mod-log")

	d.Handle(context.Background(), testMember("u1", 3, prohibitedRole), testGuild())

	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "c1", sess.Messages[0].ChannelID)
	assert.Contains(t, sess.Messages[0].Content, "m-u1")
}

func TestDispatcherNoNotificationWithoutChannel(t *testing.T) {
	sess := connectors.NewMockSession()
	d, _ := newTestDispatcher(t, sess, nil, "mod-log")

	d.Handle(context.Background(), testMember("u1", 3, prohibitedRole), testGuild())

	require.Len(t, sess.BanCalls, 1)
	assert.Empty(t, sess.Messages)
}

func TestDispatcherKillSwitchShortCircuits(t *testing.T) {
	sess := connectors.NewMockSession()
	ks := NewKillSwitch(nil, zaptest.NewLogger(t))
	ks.setPaused(true)
	d, auditor := newTestDispatcher(t, sess, ks, "")

	d.Handle(context.Background(), testMember("u1", 3, prohibitedRole), testGuild())

	assert.Empty(t, sess.BanCalls, "paused enforcement must not ban")
	assert.Empty(t, auditor.events, "paused enforcement must not evaluate")

	ks.setPaused(false)
	d.Handle(context.Background(), testMember("u1", 3, prohibitedRole), testGuild())
	assert.Len(t, sess.BanCalls, 1)
}
