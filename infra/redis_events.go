package infra

import (
	"context"
	"encoding/json"
	"fmt"

	"right-rider/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisEventManager 將司機指派事件發布到 order_assigned:<orderID>
type RedisEventManager struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedisEventManager(client *redis.Client, logger zerolog.Logger) *RedisEventManager {
	return &RedisEventManager{
		client: client,
		logger: logger.With().Str("module", "redis_events").Logger(),
	}
}

// PublishDriverAssigned 沒有訂閱者時 Redis 直接丟棄，不視為錯誤
func (rem *RedisEventManager) PublishDriverAssigned(ctx context.Context, event model.DriverAssignedEvent) error {
	channel := DriverAssignedChannel(event.OrderID)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化司機指派事件失敗: %w", err)
	}

	receivers, err := rem.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("發布到 %s 失敗: %w", channel, err)
	}

	rem.logger.Info().
		Str("channel", channel).
		Str("order_id", event.OrderID).
		Str("driver_id", event.DriverID).
		Int64("receivers", receivers).
		Msg("司機指派事件已發布")
	return nil
}
