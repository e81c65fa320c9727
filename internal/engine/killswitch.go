package engine

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/guildwarden/internal/infra"
)

// KillSwitch — глобальная пауза энфорсмента. Оператор публикует сигнал в
// Redis, агент перестает банить, не разрывая сессию с платформой.
type KillSwitch struct {
	mu     sync.RWMutex
	paused bool
	rdb    *redis.Client
	logger *zap.Logger
}

func NewKillSwitch(rdb *redis.Client, logger *zap.Logger) *KillSwitch {
	return &KillSwitch{
		rdb:    rdb,
		logger: logger.Named("killswitch"),
	}
}

// Init подтягивает текущее состояние паузы при старте сервиса.
func (k *KillSwitch) Init(ctx context.Context) error {
	val, err := k.rdb.Get(ctx, infra.RedisKeyEnforcementPaused).Result()
	if err == redis.Nil {
		k.setPaused(false)
		return nil
	}
	if err != nil {
		return err
	}
	k.setPaused(val == "1" || val == "true" || val == "on")
	return nil
}

// Paused — читается диспетчером на каждом событии, поэтому RWMutex.
func (k *KillSwitch) Paused() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.paused
}

func (k *KillSwitch) setPaused(v bool) {
	k.mu.Lock()
	changed := k.paused != v
	k.paused = v
	k.mu.Unlock()
	if changed {
		k.logger.Warn("enforcement pause toggled", zap.Bool("paused", v))
	}
}

// StartListener — «живучая» подписка на сигналы Redis: переподключение,
// ресинхронизация состояния при каждом коннекте, разбор сигналов.
func (k *KillSwitch) StartListener(ctx context.Context) {
	for {
		pubsub := k.rdb.Subscribe(ctx, infra.RedisChanEnforcementSignal)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			k.logger.Error("failed to subscribe", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		// Ресинхронизация при каждом успешном коннекте
		if err := k.Init(ctx); err != nil {
			k.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				switch msg.Payload {
				case "on", "true", "1", "pause":
					k.setPaused(true)
				case "off", "false", "0", "resume":
					k.setPaused(false)
				default:
					k.logger.Error("invalid signal payload", zap.String("payload", msg.Payload))
				}
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}
