package infra

const (
	// RedisNamespace — базовый префикс для изоляции данных агента в Redis
	RedisNamespace = "warden"
)

// Ключи состояния
const (
	RedisKeyEnforcementPaused = RedisNamespace + ":enforcement:paused"
)

// Каналы Pub/Sub (сигналы оператора)
const (
	RedisChanEnforcementSignal = RedisNamespace + ":enforcement-signal"
)
