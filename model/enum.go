package model

// OrderStatus 訂單狀態
type OrderStatus string

const (
	OrderStatusSearching        OrderStatus = "searching"         // 尋找司機中
	OrderStatusAccepted         OrderStatus = "accepted"          // 司機接單
	OrderStatusDriverArrived    OrderStatus = "driver_arrived"    // 司機抵達
	OrderStatusInProgress       OrderStatus = "in_progress"       // 執行任務
	OrderStatusCompleted        OrderStatus = "completed"         // 完成
	OrderStatusCancelled        OrderStatus = "cancelled"         // 乘客取消
	OrderStatusExpired          OrderStatus = "expired"           // 流單
	OrderStatusPaymentFailed    OrderStatus = "payment_failed"    // 付款失敗
	OrderStatusPaymentConfirmed OrderStatus = "payment_confirmed" // 付款確認
)

// IsDriverAssigned 狀態是否代表已有司機
// driver_arrived 與 in_progress 與 accepted 同等處理，長時間斷線後可能從未觀察到 accepted
func (s OrderStatus) IsDriverAssigned() bool {
	switch s {
	case OrderStatusAccepted, OrderStatusDriverArrived, OrderStatusInProgress:
		return true
	default:
		return false
	}
}

// IsTerminal 訂單是否已結束
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusExpired, OrderStatusPaymentFailed:
		return true
	default:
		return false
	}
}

// IsValid 是否為已知狀態
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusSearching, OrderStatusAccepted, OrderStatusDriverArrived, OrderStatusInProgress,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusExpired,
		OrderStatusPaymentFailed, OrderStatusPaymentConfirmed:
		return true
	default:
		return false
	}
}

// SessionKey 乘客 session 儲存的鍵
type SessionKey string

const (
	SessionKeyCurrentOrderID     SessionKey = "current-order-id"
	SessionKeyPickupAddress      SessionKey = "order-pickup-address"
	SessionKeyDestinationAddress SessionKey = "order-destination-address"
	SessionKeyDriverName         SessionKey = "assigned-driver-name"
	SessionKeyDriverID           SessionKey = "assigned-driver-id"
	SessionKeyClientToken        SessionKey = "client-auth-token"

	// SessionKeySearchActive 監看期間的旗標，每次拆除時移除
	SessionKeySearchActive SessionKey = "order-search-active"
)

// String 實現 Stringer 接口
func (k SessionKey) String() string {
	return string(k)
}

// OrderSessionKeys 使用者取消時需清除的所有鍵
func OrderSessionKeys() []SessionKey {
	return []SessionKey{
		SessionKeyCurrentOrderID,
		SessionKeyPickupAddress,
		SessionKeyDestinationAddress,
		SessionKeyDriverName,
		SessionKeyDriverID,
		SessionKeyClientToken,
		SessionKeySearchActive,
	}
}

// Route 畫面路由
type Route string

const (
	RouteHome       Route = "/"                 // 首頁
	RouteOrderForm  Route = "/ride/new"         // 叫車表單（取消後返回）
	RouteSearching  Route = "/ride/searching"   // 尋找司機中
	RouteInProgress Route = "/ride/in-progress" // 行程進行中
)

// ResolveSource 判定司機已指派的訊號來源
type ResolveSource string

const (
	ResolveSourcePush ResolveSource = "push"
	ResolveSourcePoll ResolveSource = "poll"
)

// WatchState 監看狀態
type WatchState string

const (
	WatchStateIdle      WatchState = "idle"      // 尚未開始
	WatchStateWatching  WatchState = "watching"  // 尋找司機中
	WatchStateResolved  WatchState = "resolved"  // 已指派司機
	WatchStateCancelled WatchState = "cancelled" // 使用者取消
	WatchStateStopped   WatchState = "stopped"   // 畫面卸載
)

// PushTransport 推播通道類型
type PushTransport string

const (
	PushTransportWebSocket PushTransport = "websocket"
	PushTransportRedis     PushTransport = "redis"
	PushTransportAMQP      PushTransport = "amqp"
	PushTransportNone      PushTransport = "none"
)

// TokenType JWT token 類型
type TokenType string

const (
	TokenTypeRider  TokenType = "rider"  // 乘客 session token
	TokenTypeClient TokenType = "client" // 訂單監看短效 token
)
