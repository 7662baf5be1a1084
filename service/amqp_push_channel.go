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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// AMQPPushChannel 每個訂閱建立一條 channel 與專屬的暫存 queue，
// 綁定 order.<orderID>.driver_assigned
type AMQPPushChannel struct {
	logger   zerolog.Logger
	rabbitMQ *infra.RabbitMQ
}

func NewAMQPPushChannel(logger zerolog.Logger, rabbitMQ *infra.RabbitMQ) *AMQPPushChannel {
	return &AMQPPushChannel{
		logger:   logger.With().Str("module", "amqp_push_channel").Logger(),
		rabbitMQ: rabbitMQ,
	}
}

func (p *AMQPPushChannel) Transport() string {
	return string(model.PushTransportAMQP)
}

func (p *AMQPPushChannel) JoinOrderWatch(ctx context.Context, orderID string, token string, handler interfaces.DriverAssignedHandler) (interfaces.Subscription, error) {
	ch, err := p.rabbitMQ.Connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	routingKey := infra.DriverAssignedRoutingKey(orderID)
	if err := ch.QueueBind(q.Name, routingKey, p.rabbitMQ.Exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to bind %s: %w", routingKey, err)
	}

	consumerTag := "order-watch-" + uuid.NewString()
	deliveries, err := ch.Consume(
		q.Name,      // queue
		consumerTag, // consumer
		true,        // auto-ack
		true,        // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume %s: %w", q.Name, err)
	}

	sub := &amqpSubscription{
		logger:      p.logger.With().Str("order_id", orderID).Str("routing_key", routingKey).Logger(),
		channel:     ch,
		consumerTag: consumerTag,
	}
	go sub.consume(deliveries, handler)
	return sub, nil
}

type amqpSubscription struct {
	logger      zerolog.Logger
	channel     *amqp.Channel
	consumerTag string
	closed      atomic.Bool
	closeOnce   sync.Once
}

func (s *amqpSubscription) consume(deliveries <-chan amqp.Delivery, handler interfaces.DriverAssignedHandler) {
	for d := range deliveries {
		var event model.DriverAssignedEvent
		if err := json.Unmarshal(d.Body, &event); err != nil {
			s.logger.Warn().Err(err).Msg("解析司機指派事件失敗")
			continue
		}
		if s.closed.Load() {
			return
		}
		handler(event)
	}
}

func (s *amqpSubscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.channel.Cancel(s.consumerTag, false); err != nil {
			s.logger.Debug().Err(err).Msg("取消 consumer 失敗")
		}
		if err := s.channel.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("關閉 channel 失敗")
		}
	})
}

var _ interfaces.PushChannel = (*AMQPPushChannel)(nil)
