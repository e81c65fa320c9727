package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/guildwarden/internal/console/handler"
	"github.com/xela07ax/guildwarden/internal/console/service"
	"github.com/xela07ax/guildwarden/internal/connectors"
	"github.com/xela07ax/guildwarden/internal/domain"
)

type statsStub struct {
	snap domain.StatsSnapshot
}

func (s *statsStub) Snapshot(latency time.Duration) domain.StatsSnapshot {
	out := s.snap
	out.GatewayLatencyMs = latency.Milliseconds()
	return out
}

type pauseStub struct{ paused bool }

func (p *pauseStub) Paused() bool { return p.paused }

func newTestServer(t *testing.T) (*ConsoleServer, *connectors.MockSession) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	require.NoError(t, err)

	admin := domain.AdminUser{
		Username:     "operator",
		PasswordHash: string(hash),
		Scopes:       map[string]bool{"admin": true},
	}
	authSvc := service.NewAuthService(admin, &key.PublicKey, key, time.Hour)

	sess := connectors.NewMockSession()
	sess.GuildList = []domain.GuildSnapshot{
		{ID: "g1", Name: "alpha", SelfRank: 10, BanAuthority: true},
		{ID: "g2", Name: "beta", SelfRank: 3, BanAuthority: false},
	}
	sess.Members["g1"] = []domain.MemberSnapshot{
		{ID: "u1", DisplayName: "intruder", Roles: []string{"role-666"}, Rank: 2},
	}

	stats := &statsStub{snap: domain.StatsSnapshot{
		State:       "CONNECTED",
		UptimeHuman: "5m0s",
	}}
	logger := zaptest.NewLogger(t)
	statusH := handler.NewStatusHandler(stats, sess, sess, &pauseStub{},
		domain.PolicyConfig{ProhibitedRoleID: "role-666"}, logger)

	srv := NewConsoleServer(logger, authSvc, handler.NewAuthHandler(authSvc), statusH)
	return srv, sess
}

func login(t *testing.T, srv *ConsoleServer, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, srv *ConsoleServer) string {
	t.Helper()
	rec := login(t, srv, "operator", "letmein")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return "Bearer " + resp.AccessToken
}

func TestLoginIssuesToken(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := login(t, srv, "operator", "letmein")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Greater(t, resp.ExpiresIn, int64(0))
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := login(t, srv, "operator", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/v1/status", "/v1/uptime", "/v1/rolecheck"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestStatusReportsGuildsAndDegradation(t *testing.T) {
	srv, _ := newTestServer(t)
	token := bearer(t, srv)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Authorization", token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		State             string `json:"state"`
		GatewayLatencyMs  int64  `json:"gateway_latency_ms"`
		EnforcementPaused bool   `json:"enforcement_paused"`
		Guilds            []struct {
			ID       string `json:"id"`
			Degraded string `json:"degraded"`
		} `json:"guilds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "CONNECTED", resp.State)
	assert.Equal(t, int64(42), resp.GatewayLatencyMs)
	assert.False(t, resp.EnforcementPaused)

	require.Len(t, resp.Guilds, 2)
	byID := map[string]string{}
	for _, g := range resp.Guilds {
		byID[g.ID] = g.Degraded
	}
	assert.Empty(t, byID["g1"])
	assert.Equal(t, "missing ban permission", byID["g2"])
}

func TestRoleCheckDryRun(t *testing.T) {
	srv, sess := newTestServer(t)
	token := bearer(t, srv)

	req := httptest.NewRequest(http.MethodGet, "/v1/rolecheck?guild_id=g1&member_id=u1", nil)
	req.Header.Set("Authorization", token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		DryRun  bool   `json:"dry_run"`
		Outcome string `json:"outcome"`
		Reason  string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.DryRun)
	assert.Equal(t, string(domain.OutcomeBan), resp.Outcome)
	assert.Contains(t, resp.Reason, "role-666")

	// Dry-run не исполняет бан.
	assert.Zero(t, sess.BanCallCount())
}

func TestRoleCheckUnknownGuild(t *testing.T) {
	srv, _ := newTestServer(t)
	token := bearer(t, srv)

	req := httptest.NewRequest(http.MethodGet, "/v1/rolecheck?guild_id=nope&member_id=u1", nil)
	req.Header.Set("Authorization", token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
