package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/guildwarden/internal/connectors"
	"github.com/xela07ax/guildwarden/internal/domain"
	"github.com/xela07ax/guildwarden/internal/policy"
)

// StatsProvider отдает срез счетчиков процесса.
type StatsProvider interface {
	Snapshot(latency time.Duration) domain.StatsSnapshot
}

// GuildLister отдает известные агенту гильдии. Реализуется гейтвеем.
type GuildLister interface {
	Guilds() []domain.GuildSnapshot
}

// PauseReader читает состояние kill-switch. nil — механизм выключен.
type PauseReader interface {
	Paused() bool
}

// StatusHandler обслуживает read-only эндпоинты консоли: состояние
// супервизора, аптайм и dry-run проверку политики по участнику.
type StatusHandler struct {
	stats   StatsProvider
	session connectors.Session
	guilds  GuildLister
	pause   PauseReader
	policy  domain.PolicyConfig
	logger  *zap.Logger
}

func NewStatusHandler(
	stats StatsProvider,
	session connectors.Session,
	guilds GuildLister,
	pause PauseReader,
	policyCfg domain.PolicyConfig,
	logger *zap.Logger,
) *StatusHandler {
	return &StatusHandler{
		stats:   stats,
		session: session,
		guilds:  guilds,
		pause:   pause,
		policy:  policyCfg,
		logger:  logger.Named("status-handler"),
	}
}

type guildStatus struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SelfRank     int    `json:"self_rank"`
	BanAuthority bool   `json:"ban_authority"`
	Degraded     string `json:"degraded,omitempty"`
}

type statusResponse struct {
	domain.StatsSnapshot
	EnforcementPaused bool          `json:"enforcement_paused"`
	Guilds            []guildStatus `json:"guilds"`
}

// GetStatus — сводное состояние агента по всем гильдиям.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		StatsSnapshot: h.stats.Snapshot(h.session.Latency()),
		Guilds:        []guildStatus{},
	}
	if h.pause != nil {
		resp.EnforcementPaused = h.pause.Paused()
	}

	for _, g := range h.guilds.Guilds() {
		gs := guildStatus{
			ID:           g.ID,
			Name:         g.Name,
			SelfRank:     g.SelfRank,
			BanAuthority: g.BanAuthority,
		}
		if !g.BanAuthority {
			gs.Degraded = "missing ban permission"
		}
		resp.Guilds = append(resp.Guilds, gs)
	}

	writeJSON(w, resp)
}

// GetUptime — узкий срез для внешнего мониторинга.
func (h *StatusHandler) GetUptime(w http.ResponseWriter, r *http.Request) {
	snap := h.stats.Snapshot(h.session.Latency())
	writeJSON(w, map[string]any{
		"state":        snap.State,
		"uptime":       snap.UptimeHuman,
		"connected_at": snap.ConnectedAt,
	})
}

// RoleCheck прогоняет политику по живому участнику без исполнения бана.
// GET /v1/rolecheck?guild_id=...&member_id=...
func (h *StatusHandler) RoleCheck(w http.ResponseWriter, r *http.Request) {
	guildID := r.URL.Query().Get("guild_id")
	memberID := r.URL.Query().Get("member_id")
	if guildID == "" || memberID == "" {
		http.Error(w, "guild_id and member_id are required", http.StatusBadRequest)
		return
	}

	var guild domain.GuildSnapshot
	found := false
	for _, g := range h.guilds.Guilds() {
		if g.ID == guildID {
			guild, found = g, true
			break
		}
	}
	if !found {
		http.Error(w, "unknown guild", http.StatusNotFound)
		return
	}

	member, err := h.session.FetchMember(r.Context(), guildID, memberID)
	if err != nil {
		h.logger.Warn("rolecheck member fetch failed",
			zap.String("guild_id", guildID),
			zap.String("member_id", memberID),
			zap.Error(err))
		http.Error(w, "member lookup failed", http.StatusBadGateway)
		return
	}

	decision := policy.Evaluate(member, guild, h.policy)
	writeJSON(w, map[string]any{
		"dry_run":     true,
		"outcome":     decision.Outcome,
		"reason":      decision.Reason,
		"member_rank": member.Rank,
		"self_rank":   guild.SelfRank,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode failure", http.StatusInternalServerError)
	}
}
