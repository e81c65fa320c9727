package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/guildwarden/internal/audit"
	"github.com/xela07ax/guildwarden/internal/connectors"
	"github.com/xela07ax/guildwarden/internal/domain"
	"github.com/xela07ax/guildwarden/internal/policy"
)

// Dispatcher превращает событие «участник + гильдия» в действие: прогоняет
// снапшоты через движок политики и исполняет вердикт. Ошибок наружу не
// отдает — любой сбой локализуется здесь.
type Dispatcher struct {
	session connectors.Session
	cfg     domain.PolicyConfig
	auditor audit.Auditor
	metrics *Metrics
	ks      *KillSwitch // nil — пауза не сконфигурирована
	logger  *zap.Logger

	// Имя audit-канала гильдии для уведомлений; пусто — уведомления выключены.
	auditChannelName string
}

func NewDispatcher(
	session connectors.Session,
	cfg domain.PolicyConfig,
	auditor audit.Auditor,
	metrics *Metrics,
	ks *KillSwitch,
	auditChannelName string,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		session:          session,
		cfg:              cfg,
		auditor:          auditor,
		metrics:          metrics,
		ks:               ks,
		auditChannelName: auditChannelName,
		logger:           logger.Named("dispatcher"),
	}
}

// Handle оценивает одного участника. Идемпотентно: повторный вызов по уже
// забаненному участнику безвредно упадет на границе платформы.
func (d *Dispatcher) Handle(ctx context.Context, m domain.MemberSnapshot, g domain.GuildSnapshot) {
	if d.ks != nil && d.ks.Paused() {
		d.logger.Debug("enforcement paused, skipping",
			zap.String("guild_id", g.ID), zap.String("member_id", m.ID))
		return
	}

	decision := policy.Evaluate(m, g, d.cfg)
	d.metrics.DecisionsTotal.WithLabelValues(string(decision.Outcome)).Inc()

	event := audit.FromDecision(decision)

	switch decision.Outcome {
	case domain.OutcomeSkipNoPermission:
		// Каждый раз на warn: потеря прав — всегда новость для оператора.
		d.logger.Warn("missing ban permission",
			zap.String("guild_id", g.ID), zap.String("guild", g.Name))

	case domain.OutcomeSkipRank:
		d.logger.Info("member outranks agent, skipping",
			zap.String("guild_id", g.ID),
			zap.String("member_id", m.ID),
			zap.Int("member_rank", m.Rank),
			zap.Int("self_rank", g.SelfRank))

	case domain.OutcomeSkipNoRole:
		// Самая частая ветка — тишина.

	case domain.OutcomeBan:
		d.executeBan(ctx, decision, &event)
	}

	d.auditor.Log(event)
}

func (d *Dispatcher) executeBan(ctx context.Context, decision domain.BanDecision, event *audit.DecisionEvent) {
	m, g := decision.Member, decision.Guild

	// Нулевое удержание: сообщения участника не трогаем.
	err := d.session.Ban(ctx, g.ID, m.ID, decision.Reason, 0)
	if err != nil {
		event.Status = audit.StatusFailed
		event.Error = err.Error()

		switch {
		case connectors.IsPermission(err):
			d.metrics.BanFailures.WithLabelValues("permission").Inc()
			d.logger.Warn("ban rejected by platform",
				zap.String("guild_id", g.ID), zap.String("member_id", m.ID), zap.Error(err))
		case connectors.IsTransport(err):
			d.metrics.BanFailures.WithLabelValues("transport").Inc()
			// Без ретрая: следующее событие по участнику переоценит его.
			d.logger.Error("ban failed at transport layer",
				zap.String("guild_id", g.ID), zap.String("member_id", m.ID), zap.Error(err))
		default:
			d.metrics.BanFailures.WithLabelValues("other").Inc()
			d.logger.Error("ban failed",
				zap.String("guild_id", g.ID), zap.String("member_id", m.ID), zap.Error(err))
		}
		return
	}

	event.Status = audit.StatusExecuted
	d.logger.Info("member banned",
		zap.String("guild_id", g.ID),
		zap.String("guild", g.Name),
		zap.String("member_id", m.ID),
		zap.String("member", m.DisplayName),
		zap.String("reason", decision.Reason))

	d.notify(ctx, g, decision)
}

// notify шлет человекочитаемое уведомление в audit-канал гильдии, если он есть.
// Ошибки здесь никого не останавливают.
func (d *Dispatcher) notify(ctx context.Context, g domain.GuildSnapshot, decision domain.BanDecision) {
	if d.auditChannelName == "" {
		return
	}
	ch, ok := d.session.FindChannelByName(ctx, g.ID, d.auditChannelName)
	if !ok {
		return
	}
	content := fmt.Sprintf("banned %s (%s): %s",
		decision.Member.DisplayName, decision.Member.ID, decision.Reason)
	if err := d.session.SendMessage(ctx, ch.ID, content); err != nil {
		d.logger.Warn("audit notification failed",
			zap.String("guild_id", g.ID), zap.Error(err))
	}
}
