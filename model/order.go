package model

import (
	"time"
)

// ActiveOrder 輪詢端點回傳的訂單摘要
type ActiveOrder struct {
	ID               string      `json:"id,omitempty" example:"684a73ad0e3a583c37e4b30d" doc:"訂單ID"`
	Status           OrderStatus `json:"status" example:"searching" doc:"訂單狀態"`
	DriverName       string      `json:"driverName,omitempty" example:"Moana" doc:"司機姓名"`
	AssignedDriverID string      `json:"assignedDriverId,omitempty" example:"d1" doc:"分派的司機ID"`
}

// ActiveOrderResponse GET /orders/active 的回應
type ActiveOrderResponse struct {
	HasActiveOrder bool         `json:"hasActiveOrder" doc:"呼叫者是否有進行中的訂單"`
	Order          *ActiveOrder `json:"order,omitempty"`
	ClientToken    string       `json:"clientToken,omitempty" doc:"新發行的短效客戶端 token"`
}

// DriverAssignedEvent 推播通道送達的司機指派事件
type DriverAssignedEvent struct {
	OrderID    string `json:"orderId"`
	DriverID   string `json:"driverId"`
	DriverName string `json:"driverName"`
}

// Order 模擬後端保存的訂單
type Order struct {
	ID                 string      `json:"id" example:"684a73ad0e3a583c37e4b30d" doc:"訂單ID"`
	RiderID            string      `json:"rider_id" doc:"乘客ID"`
	Status             OrderStatus `json:"status" example:"searching" doc:"訂單狀態"`
	PickupAddress      string      `json:"pickup_address" doc:"上車地點"`
	DestinationAddress string      `json:"destination_address" doc:"目的地"`
	AssignedDriverID   string      `json:"assigned_driver_id,omitempty" doc:"分派的司機ID"`
	DriverName         string      `json:"driver_name,omitempty" doc:"司機姓名"`
	CreatedAt          time.Time   `json:"created_at" doc:"建立時間"`
	UpdatedAt          time.Time   `json:"updated_at" doc:"更新時間"`
	AcceptanceTime     *time.Time  `json:"acceptance_time,omitempty" doc:"接單時間"`
}

// ToActive 轉換為輪詢端點的摘要
func (o *Order) ToActive() *ActiveOrder {
	return &ActiveOrder{
		ID:               o.ID,
		Status:           o.Status,
		DriverName:       o.DriverName,
		AssignedDriverID: o.AssignedDriverID,
	}
}

// WatchSnapshot 監看狀態快照
type WatchSnapshot struct {
	WatchID    string        `json:"watch_id" doc:"監看ID"`
	OrderID    string        `json:"order_id" doc:"訂單ID"`
	State      WatchState    `json:"state" example:"watching" doc:"監看狀態"`
	Source     ResolveSource `json:"source,omitempty" doc:"判定來源(push/poll)"`
	DriverID   string        `json:"driver_id,omitempty" doc:"司機ID"`
	DriverName string        `json:"driver_name,omitempty" doc:"司機姓名"`
	PollCount  int           `json:"poll_count" doc:"已完成的輪詢次數"`
	StartedAt  time.Time     `json:"started_at" doc:"開始時間"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty" doc:"判定時間"`
}
