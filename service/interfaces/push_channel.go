package interfaces

import (
	"context"

	"right-rider/model"
)

// DriverAssignedHandler 推播事件回呼，由通道的 goroutine 呼叫
type DriverAssignedHandler func(event model.DriverAssignedEvent)

// PushChannel 司機指派推播通道
type PushChannel interface {
	// JoinOrderWatch 訂閱指定訂單的司機指派事件，token 可為空
	JoinOrderWatch(ctx context.Context, orderID string, token string, handler DriverAssignedHandler) (Subscription, error)
	// Transport 通道名稱，用於 log 與 metrics
	Transport() string
}

// Subscription 推播訂閱
type Subscription interface {
	// Unsubscribe 可重複呼叫且不阻塞；不等待進行中的 handler 呼叫結束
	Unsubscribe()
}
