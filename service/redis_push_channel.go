package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"right-rider/infra"
	"right-rider/model"
	"right-rider/service/interfaces"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisPushChannel 訂閱 order_assigned:<orderID> 頻道
type RedisPushChannel struct {
	logger zerolog.Logger
	client *redis.Client
}

func NewRedisPushChannel(logger zerolog.Logger, client *redis.Client) *RedisPushChannel {
	return &RedisPushChannel{
		logger: logger.With().Str("module", "redis_push_channel").Logger(),
		client: client,
	}
}

func (p *RedisPushChannel) Transport() string {
	return string(model.PushTransportRedis)
}

// JoinOrderWatch Redis 屬內部網路，不使用客戶端 token
func (p *RedisPushChannel) JoinOrderWatch(ctx context.Context, orderID string, token string, handler interfaces.DriverAssignedHandler) (interfaces.Subscription, error) {
	channel := infra.DriverAssignedChannel(orderID)
	pubsub := p.client.Subscribe(ctx, channel)

	// 等待訂閱確認，連線失敗時在這裡回傳
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("訂閱 %s 失敗: %w", channel, err)
	}

	sub := &redisSubscription{
		logger: p.logger.With().Str("order_id", orderID).Str("channel", channel).Logger(),
		pubsub: pubsub,
	}
	go sub.consume(handler)
	return sub, nil
}

type redisSubscription struct {
	logger    zerolog.Logger
	pubsub    *redis.PubSub
	closed    atomic.Bool
	closeOnce sync.Once
}

func (s *redisSubscription) consume(handler interfaces.DriverAssignedHandler) {
	for msg := range s.pubsub.Channel() {
		var event model.DriverAssignedEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			s.logger.Warn().Err(err).Str("payload", msg.Payload).Msg("解析司機指派事件失敗")
			continue
		}
		if s.closed.Load() {
			return
		}
		handler(event)
	}
}

func (s *redisSubscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.pubsub.Close(); err != nil {
			s.logger.Error().Err(err).Msg("關閉 Redis 訂閱失敗")
		}
	})
}

var _ interfaces.PushChannel = (*RedisPushChannel)(nil)
