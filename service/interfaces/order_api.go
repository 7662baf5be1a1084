package interfaces

import (
	"context"
	"errors"

	"right-rider/model"
)

// ErrMalformedPayload 伺服器回傳無法解析的內容
var ErrMalformedPayload = errors.New("malformed order status payload")

// OrderStatusAPI 訂單狀態輪詢端點
type OrderStatusAPI interface {
	GetActiveOrder(ctx context.Context) (*model.ActiveOrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) error
}
