package websocket

// WebSocket 消息類型常量
const (
	// 請求類型
	MessageTypeJoinOrderWatch  = "join_order_watch"
	MessageTypeLeaveOrderWatch = "leave_order_watch"
	MessageTypePing            = "ping"

	// 回應類型
	MessageTypeJoinOrderWatchResponse = "join_order_watch_response"
	MessageTypePong                   = "pong"
	MessageTypeError                  = "error"

	// 推送類型
	MessageTypeDriverAssigned    = "driver_assigned"
	MessageTypeOrderStatusUpdate = "order_status_update"
)

// WebSocket 連線狀態
type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

// WebSocket 錯誤類型
type ErrorType string

const (
	ErrorTypeInvalidToken       ErrorType = "invalid_token"
	ErrorTypeInvalidMessage     ErrorType = "invalid_message"
	ErrorTypeOrderMismatch      ErrorType = "order_mismatch" // token 綁定的訂單與請求不同
	ErrorTypeUnsupportedMessage ErrorType = "unsupported_message"
)
