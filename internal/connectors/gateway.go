package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/xela07ax/guildwarden/internal/domain"
)

// Opcodes гейтвея.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Intents: гильдии + участники.
const (
	intentGuilds       = 1 << 0
	intentGuildMembers = 1 << 1
)

// Биты прав ролей.
const (
	permBanMembers    = uint64(1) << 2
	permAdministrator = uint64(1) << 3
)

// closeCodeAuthFailed — гейтвей закрыл соединение из-за невалидного токена.
const closeCodeAuthFailed = 4004

type GatewayConfig struct {
	Token      string
	GatewayURL string // wss://...
	APIBase    string // https://.../api/v10
}

// Gateway — боевая реализация Session: websocket-гейтвей для событий,
// JSON REST для операций. Идемпотентные чтения ходят через retryablehttp,
// бан — через обычный клиент (повтор бана решает вышестоящий слой).
type Gateway struct {
	cfg    GatewayConfig
	logger *zap.Logger
	rest   *http.Client // с ретраями (GET)
	plain  *http.Client // без ретраев (Ban, SendMessage)

	mu     sync.Mutex
	wmu    sync.Mutex
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}
	closed bool
	err    error

	sessionID string
	resumeURL string
	selfID    string
	seq       atomic.Int64
	beatSent  atomic.Int64 // unixnano последнего heartbeat
	latencyNs atomic.Int64

	gmu    sync.RWMutex
	guilds map[string]*guildState
}

// guildState — кэш ролей гильдии для вычисления рангов.
type guildState struct {
	roles map[string]apiRole
	snap  domain.GuildSnapshot
}

func NewGateway(cfg GatewayConfig, logger *zap.Logger) *Gateway {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil

	return &Gateway{
		cfg:    cfg,
		logger: logger.Named("gateway"),
		rest:   rc.StandardClient(),
		plain:  &http.Client{Timeout: 15 * time.Second},
		guilds: make(map[string]*guildState),
	}
}

// --- Wire-структуры ---

type gatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  int64           `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type outboundPayload struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"` // мс
}

type identifyData struct {
	Token      string `json:"token"`
	Intents    int    `json:"intents"`
	Properties struct {
		OS      string `json:"os"`
		Browser string `json:"browser"`
		Device  string `json:"device"`
	} `json:"properties"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type readyData struct {
	SessionID        string  `json:"session_id"`
	ResumeGatewayURL string  `json:"resume_gateway_url"`
	User             apiUser `json:"user"`
}

type apiUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type apiRole struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Position    int    `json:"position"`
	Permissions string `json:"permissions"` // uint64 строкой
}

type apiGuild struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Roles []apiRole `json:"roles"`
}

type apiMember struct {
	User    apiUser  `json:"user"`
	Nick    string   `json:"nick"`
	Roles   []string `json:"roles"`
	GuildID string   `json:"guild_id"` // только в событиях
}

type apiChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type int    `json:"type"`
}

// --- Жизненный цикл ---

func (g *Gateway) Open(ctx context.Context) (<-chan Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	dialURL := g.cfg.GatewayURL
	resuming := g.sessionID != ""
	if resuming && g.resumeURL != "" {
		dialURL = g.resumeURL
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}

	// Первый фрейм — всегда Hello с интервалом heartbeat.
	var p gatewayPayload
	if err := conn.ReadJSON(&p); err != nil {
		conn.Close()
		return nil, &TransportError{Cause: err}
	}
	if p.Op != opHello {
		conn.Close()
		return nil, &TransportError{Cause: fmt.Errorf("expected HELLO, got op %d", p.Op)}
	}
	var hello helloData
	if err := json.Unmarshal(p.D, &hello); err != nil {
		conn.Close()
		return nil, &TransportError{Cause: err}
	}

	g.conn = conn
	g.events = make(chan Event, 256)
	g.done = make(chan struct{})
	g.closed = false
	g.err = nil

	if resuming {
		g.writeJSON(outboundPayload{Op: opResume, D: resumeData{
			Token:     g.cfg.Token,
			SessionID: g.sessionID,
			Seq:       g.seq.Load(),
		}})
		g.logger.Info("resuming gateway session", zap.String("session_id", g.sessionID))
	} else {
		id := identifyData{Token: g.cfg.Token, Intents: intentGuilds | intentGuildMembers}
		id.Properties.OS = "linux"
		id.Properties.Browser = "guildwarden"
		id.Properties.Device = "guildwarden"
		g.writeJSON(outboundPayload{Op: opIdentify, D: id})
	}

	// Горутины получают свои каналы и сокет явно: после переподключения
	// поля гейтвея укажут уже на новую сессию.
	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	go g.heartbeatLoop(interval, g.done)
	go g.readPump(conn, g.events)

	return g.events, nil
}

func (g *Gateway) Close() error {
	g.shutdown(nil)
	return nil
}

func (g *Gateway) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// shutdown фиксирует причину и гасит сокет ровно один раз. Канал событий
// здесь не трогаем: его закрывает read pump на выходе — единственный
// пишущий, поэтому send-after-close невозможен.
func (g *Gateway) shutdown(cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.err = cause
	if g.conn != nil {
		g.conn.Close()
	}
	if g.done != nil {
		close(g.done)
	}
}

// readPump — единственный владелец канала событий: и пишет, и закрывает.
func (g *Gateway) readPump(conn *websocket.Conn, events chan Event) {
	defer close(events)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			g.shutdown(classifySocketErr(err))
			return
		}

		var p gatewayPayload
		if err := json.Unmarshal(data, &p); err != nil {
			g.logger.Warn("undecodable gateway frame", zap.Error(err))
			continue
		}
		if p.S != 0 {
			g.seq.Store(p.S)
		}

		switch p.Op {
		case opHeartbeat:
			g.sendHeartbeat()
		case opHeartbeatAck:
			if sent := g.beatSent.Load(); sent != 0 {
				g.latencyNs.Store(time.Now().UnixNano() - sent)
			}
		case opReconnect:
			g.shutdown(&ClosedError{Cause: errors.New("gateway requested reconnect")})
			return
		case opInvalidSession:
			// Resume больше невозможен, на следующем Open будет чистый Identify.
			g.mu.Lock()
			g.sessionID = ""
			g.mu.Unlock()
			g.shutdown(&ClosedError{Cause: errors.New("gateway invalidated session")})
			return
		case opDispatch:
			g.handleDispatch(events, p.T, p.D)
		}
	}
}

func (g *Gateway) heartbeatLoop(interval time.Duration, done <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			g.sendHeartbeat()
		}
	}
}

func (g *Gateway) sendHeartbeat() {
	g.beatSent.Store(time.Now().UnixNano())
	g.writeJSON(outboundPayload{Op: opHeartbeat, D: g.seq.Load()})
}

func (g *Gateway) writeJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("marshal outbound frame", zap.Error(err))
		return
	}
	g.wmu.Lock()
	defer g.wmu.Unlock()
	if err := g.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		// Read pump заметит обрыв сам.
		g.logger.Warn("write to gateway failed", zap.Error(err))
	}
}

func classifySocketErr(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == closeCodeAuthFailed {
		return &AuthError{Cause: err}
	}
	return &ClosedError{Cause: err}
}

// --- Dispatch-события ---

func (g *Gateway) handleDispatch(events chan<- Event, t string, d json.RawMessage) {
	switch t {
	case "READY":
		var r readyData
		if err := json.Unmarshal(d, &r); err != nil {
			g.logger.Error("bad READY payload", zap.Error(err))
			return
		}
		g.mu.Lock()
		g.sessionID = r.SessionID
		g.resumeURL = r.ResumeGatewayURL
		g.selfID = r.User.ID
		g.mu.Unlock()
		g.emit(events, Event{Kind: EventReady})

	case "RESUMED":
		g.emit(events, Event{Kind: EventResumed})

	case "GUILD_CREATE":
		var gd apiGuild
		if err := json.Unmarshal(d, &gd); err != nil {
			g.logger.Error("bad GUILD_CREATE payload", zap.Error(err))
			return
		}
		snap, err := g.registerGuild(gd)
		if err != nil {
			g.logger.Error("guild registration failed",
				zap.String("guild_id", gd.ID), zap.Error(err))
			return
		}
		g.emit(events, Event{Kind: EventGuildJoined, Guild: snap})

	case "GUILD_MEMBER_ADD", "GUILD_MEMBER_UPDATE":
		var m apiMember
		if err := json.Unmarshal(d, &m); err != nil {
			g.logger.Error("bad member payload", zap.String("type", t), zap.Error(err))
			return
		}
		snap, ok := g.guildSnapshot(m.GuildID)
		if !ok {
			// Гильдия еще не прогрета GUILD_CREATE — событие догонит нас позже.
			g.logger.Warn("member event for unknown guild", zap.String("guild_id", m.GuildID))
			return
		}
		kind := EventMemberJoined
		if t == "GUILD_MEMBER_UPDATE" {
			kind = EventMemberUpdated
		}
		g.emit(events, Event{Kind: kind, Guild: snap, Member: g.toMemberSnapshot(m.GuildID, m)})
	}
}

// registerGuild прогревает кэш ролей и считает ранг/права самого агента.
func (g *Gateway) registerGuild(gd apiGuild) (domain.GuildSnapshot, error) {
	st := &guildState{roles: make(map[string]apiRole, len(gd.Roles))}
	for _, r := range gd.Roles {
		st.roles[r.ID] = r
	}

	g.mu.Lock()
	selfID := g.selfID
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var self apiMember
	if err := g.apiGet(ctx, "/guilds/"+gd.ID+"/members/"+selfID, &self); err != nil {
		return domain.GuildSnapshot{}, err
	}

	selfRank := 0
	var perms uint64
	for _, rid := range self.Roles {
		r, ok := st.roles[rid]
		if !ok {
			continue
		}
		if r.Position > selfRank {
			selfRank = r.Position
		}
		if v, err := strconv.ParseUint(r.Permissions, 10, 64); err == nil {
			perms |= v
		}
	}

	st.snap = domain.GuildSnapshot{
		ID:           gd.ID,
		Name:         gd.Name,
		SelfRank:     selfRank,
		BanAuthority: perms&(permBanMembers|permAdministrator) != 0,
	}

	g.gmu.Lock()
	g.guilds[gd.ID] = st
	g.gmu.Unlock()

	return st.snap, nil
}

// Guilds возвращает снимки всех известных гильдий. Используется консолью.
func (g *Gateway) Guilds() []domain.GuildSnapshot {
	g.gmu.RLock()
	defer g.gmu.RUnlock()
	out := make([]domain.GuildSnapshot, 0, len(g.guilds))
	for _, st := range g.guilds {
		out = append(out, st.snap)
	}
	return out
}

func (g *Gateway) guildSnapshot(guildID string) (domain.GuildSnapshot, bool) {
	g.gmu.RLock()
	defer g.gmu.RUnlock()
	st, ok := g.guilds[guildID]
	if !ok {
		return domain.GuildSnapshot{}, false
	}
	return st.snap, true
}

func (g *Gateway) toMemberSnapshot(guildID string, m apiMember) domain.MemberSnapshot {
	name := m.Nick
	if name == "" {
		name = m.User.Username
	}
	rank := 0
	g.gmu.RLock()
	if st, ok := g.guilds[guildID]; ok {
		for _, rid := range m.Roles {
			if r, ok := st.roles[rid]; ok && r.Position > rank {
				rank = r.Position
			}
		}
	}
	g.gmu.RUnlock()
	return domain.MemberSnapshot{
		ID:          m.User.ID,
		DisplayName: name,
		Roles:       m.Roles,
		Rank:        rank,
	}
}

func (g *Gateway) emit(events chan<- Event, ev Event) {
	select {
	case events <- ev:
	default:
		// Потребитель не успевает — событие теряем, участник будет
		// переоценен следующим сканом.
		g.logger.Warn("event buffer full, dropping", zap.String("kind", string(ev.Kind)))
	}
}

// --- REST ---

func (g *Gateway) FetchMembers(ctx context.Context, guildID, after string, limit int) ([]domain.MemberSnapshot, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if after != "" {
		q.Set("after", after)
	}
	var raw []apiMember
	if err := g.apiGet(ctx, "/guilds/"+guildID+"/members?"+q.Encode(), &raw); err != nil {
		return nil, err
	}
	out := make([]domain.MemberSnapshot, 0, len(raw))
	for _, m := range raw {
		out = append(out, g.toMemberSnapshot(guildID, m))
	}
	return out, nil
}

func (g *Gateway) FetchMember(ctx context.Context, guildID, memberID string) (domain.MemberSnapshot, error) {
	var raw apiMember
	if err := g.apiGet(ctx, "/guilds/"+guildID+"/members/"+memberID, &raw); err != nil {
		return domain.MemberSnapshot{}, err
	}
	return g.toMemberSnapshot(guildID, raw), nil
}

func (g *Gateway) Ban(ctx context.Context, guildID, memberID, reason string, retentionDays int) error {
	body, _ := json.Marshal(map[string]int{
		"delete_message_seconds": retentionDays * 86400,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		g.cfg.APIBase+"/guilds/"+guildID+"/bans/"+memberID, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Cause: err}
	}
	req.Header.Set("Authorization", "Bot "+g.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Audit-Log-Reason", url.PathEscape(reason))

	resp, err := g.plain.Do(req)
	if err != nil {
		return &TransportError{Cause: err}
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (g *Gateway) FindChannelByName(ctx context.Context, guildID, name string) (domain.ChannelRef, bool) {
	var raw []apiChannel
	if err := g.apiGet(ctx, "/guilds/"+guildID+"/channels", &raw); err != nil {
		g.logger.Warn("channel lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return domain.ChannelRef{}, false
	}
	for _, c := range raw {
		// 0 — обычный текстовый канал
		if c.Type == 0 && c.Name == name {
			return domain.ChannelRef{ID: c.ID, Name: c.Name}, true
		}
	}
	return domain.ChannelRef{}, false
}

func (g *Gateway) SendMessage(ctx context.Context, channelID, content string) error {
	body, _ := json.Marshal(map[string]string{"content": content})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.APIBase+"/channels/"+channelID+"/messages", bytes.NewReader(body))
	if err != nil {
		return &TransportError{Cause: err}
	}
	req.Header.Set("Authorization", "Bot "+g.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.plain.Do(req)
	if err != nil {
		return &TransportError{Cause: err}
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (g *Gateway) Latency() time.Duration {
	return time.Duration(g.latencyNs.Load())
}

func (g *Gateway) apiGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.APIBase+path, nil)
	if err != nil {
		return &TransportError{Cause: err}
	}
	req.Header.Set("Authorization", "Bot "+g.cfg.Token)

	resp, err := g.rest.Do(req)
	if err != nil {
		return &TransportError{Cause: err}
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// checkStatus маппит HTTP-статусы платформы в таксономию ошибок.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{Cause: fmt.Errorf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusForbidden:
		return &PermissionError{Cause: fmt.Errorf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 5 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return &ThrottleError{RetryAfter: retryAfter, Cause: fmt.Errorf("HTTP %d", resp.StatusCode)}
	default:
		return &TransportError{Cause: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
}
