package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"right-rider/model"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// RabbitMQ 司機指派事件的 topic exchange 連線
// Connection 供訂閱端各自開 channel，Channel 只用於發布
type RabbitMQ struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
	Exchange   string

	publishMu sync.Mutex
	logger    zerolog.Logger
}

// ConnectRabbitMQ 連線並宣告 durable topic exchange
func ConnectRabbitMQ(cfg Config, logger zerolog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, fmt.Errorf("連接 RabbitMQ 失敗: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("開啟 RabbitMQ channel 失敗: %w", err)
	}

	exchange := cfg.RabbitMQ.Exchange
	if exchange == "" {
		exchange = ExchangeOrderEvents.String()
	}

	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("宣告 exchange %s 失敗: %w", exchange, err)
	}

	r := &RabbitMQ{
		Connection: conn,
		Channel:    ch,
		Exchange:   exchange,
		logger:     logger.With().Str("module", "rabbitmq").Str("exchange", exchange).Logger(),
	}
	r.logger.Info().Msg("RabbitMQ 已連接")
	return r, nil
}

func (r *RabbitMQ) Close() error {
	if r.Channel != nil {
		r.Channel.Close()
	}
	if r.Connection != nil {
		return r.Connection.Close()
	}
	return nil
}

// PublishDriverAssigned 發布到 order.<orderID>.driver_assigned，沒有綁定的 queue 時訊息直接丟棄
func (r *RabbitMQ) PublishDriverAssigned(ctx context.Context, event model.DriverAssignedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化司機指派事件失敗: %w", err)
	}

	routingKey := DriverAssignedRoutingKey(event.OrderID)
	r.publishMu.Lock()
	err = r.Channel.Publish(
		r.Exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Type:        "driver_assigned",
			Body:        body,
		})
	r.publishMu.Unlock()
	if err != nil {
		return fmt.Errorf("發布到 %s 失敗: %w", routingKey, err)
	}

	r.logger.Info().
		Str("routing_key", routingKey).
		Str("order_id", event.OrderID).
		Str("driver_id", event.DriverID).
		Msg("司機指派事件已發布")
	return nil
}
