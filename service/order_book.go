package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"right-rider/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrOrderNotFound     = errors.New("訂單不存在")
	ErrOrderNotSearching = errors.New("訂單不在尋找司機狀態")
	ErrOrderNotOwned     = errors.New("訂單不屬於此乘客")
	ErrActiveOrderExists = errors.New("乘客已有進行中的訂單")
	ErrInvalidStatus     = errors.New("無效的訂單狀態")
)

// DriverAssignedPublisher 司機指派事件的發布端
type DriverAssignedPublisher interface {
	PublishDriverAssigned(ctx context.Context, event model.DriverAssignedEvent) error
}

// OrderBook 模擬後端的記憶體訂單簿
type OrderBook struct {
	logger     zerolog.Logger
	mu         sync.RWMutex
	orders     map[string]*model.Order
	publishers []DriverAssignedPublisher
}

func NewOrderBook(logger zerolog.Logger, publishers ...DriverAssignedPublisher) *OrderBook {
	return &OrderBook{
		logger:     logger.With().Str("module", "order_book").Logger(),
		orders:     make(map[string]*model.Order),
		publishers: publishers,
	}
}

// AddPublisher 加入發布端，需在開始服務前呼叫
func (b *OrderBook) AddPublisher(p DriverAssignedPublisher) {
	b.publishers = append(b.publishers, p)
}

// CreateOrder 建立尋找司機中的訂單
func (b *OrderBook) CreateOrder(ctx context.Context, riderID, pickup, destination string) (*model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if active := b.activeLocked(riderID); active != nil {
		return nil, ErrActiveOrderExists
	}

	now := time.Now()
	order := &model.Order{
		ID:                 uuid.NewString(),
		RiderID:            riderID,
		Status:             model.OrderStatusSearching,
		PickupAddress:      pickup,
		DestinationAddress: destination,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	b.orders[order.ID] = order

	b.logger.Info().Str("order_id", order.ID).Str("rider_id", riderID).Msg("訂單已建立")
	copied := *order
	return &copied, nil
}

// ActiveOrder 乘客目前未結束的訂單，沒有時回傳 nil
func (b *OrderBook) ActiveOrder(ctx context.Context, riderID string) *model.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	order := b.activeLocked(riderID)
	if order == nil {
		return nil
	}
	copied := *order
	return &copied
}

func (b *OrderBook) activeLocked(riderID string) *model.Order {
	var latest *model.Order
	for _, order := range b.orders {
		if order.RiderID != riderID || order.Status.IsTerminal() {
			continue
		}
		if latest == nil || order.CreatedAt.After(latest.CreatedAt) {
			latest = order
		}
	}
	return latest
}

// GetOrder 依ID取得訂單
func (b *OrderBook) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	order, ok := b.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

// AssignDriver 指派司機並發布事件
func (b *OrderBook) AssignDriver(ctx context.Context, orderID, driverID, driverName string) (*model.Order, error) {
	b.mu.Lock()
	order, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return nil, ErrOrderNotFound
	}
	if order.Status != model.OrderStatusSearching {
		b.mu.Unlock()
		return nil, ErrOrderNotSearching
	}

	now := time.Now()
	order.Status = model.OrderStatusAccepted
	order.AssignedDriverID = driverID
	order.DriverName = driverName
	order.AcceptanceTime = &now
	order.UpdatedAt = now
	copied := *order
	b.mu.Unlock()

	b.logger.Info().
		Str("order_id", orderID).
		Str("driver_id", driverID).
		Str("driver_name", driverName).
		Msg("司機接單")

	event := model.DriverAssignedEvent{OrderID: orderID, DriverID: driverID, DriverName: driverName}
	for _, p := range b.publishers {
		if err := p.PublishDriverAssigned(ctx, event); err != nil {
			// 推播失敗不影響接單，客戶端會以輪詢補上
			b.logger.Error().Err(err).Str("order_id", orderID).Msg("發布司機指派事件失敗")
		}
	}

	return &copied, nil
}

// UpdateStatus 直接更新訂單狀態（開發用）
func (b *OrderBook) UpdateStatus(ctx context.Context, orderID string, status model.OrderStatus) (*model.Order, error) {
	if !status.IsValid() {
		return nil, ErrInvalidStatus
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = time.Now()

	b.logger.Info().Str("order_id", orderID).Str("status", string(status)).Msg("訂單狀態已更新")
	copied := *order
	return &copied, nil
}

// CancelOrder 乘客取消訂單
func (b *OrderBook) CancelOrder(ctx context.Context, riderID, orderID string) (*model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if order.RiderID != riderID {
		return nil, ErrOrderNotOwned
	}
	if !order.Status.IsTerminal() {
		order.Status = model.OrderStatusCancelled
		order.UpdatedAt = time.Now()
		b.logger.Info().Str("order_id", orderID).Msg("乘客取消訂單")
	}
	copied := *order
	return &copied, nil
}

// SearchingOrders 尋找司機超過 minWait 的訂單，依建立時間排序
func (b *OrderBook) SearchingOrders(ctx context.Context, minWait time.Duration) []*model.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cutoff := time.Now().Add(-minWait)
	var result []*model.Order
	for _, order := range b.orders {
		if order.Status == model.OrderStatusSearching && !order.CreatedAt.After(cutoff) {
			copied := *order
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}
