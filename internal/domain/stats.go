package domain

import "time"

// StatsSnapshot — read-only срез счетчиков процесса для Console API.
type StatsSnapshot struct {
	State             string        `json:"state"`
	ConnectedAt       time.Time     `json:"connected_at"`
	Uptime            time.Duration `json:"uptime"`
	UptimeHuman       string        `json:"uptime_human"`
	ReconnectAttempts int           `json:"reconnect_attempts"`
	GatewayLatencyMs  int64         `json:"gateway_latency_ms"`
}
