package websocket

import (
	"encoding/json"
)

// WSMessage WebSocket 訊息類型
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage 將資料封裝為 WSMessage
func NewMessage(messageType string, data interface{}) (WSMessage, error) {
	if data == nil {
		return WSMessage{Type: messageType}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return WSMessage{}, err
	}
	return WSMessage{Type: messageType, Data: raw}, nil
}

// PongResponse 心跳回應
type PongResponse struct {
	Timestamp int64 `json:"timestamp"`
}

// JoinOrderWatchRequest 加入訂單監看
type JoinOrderWatchRequest struct {
	OrderID string `json:"orderId"`
	Token   string `json:"token,omitempty"`
}

// LeaveOrderWatchRequest 離開訂單監看
type LeaveOrderWatchRequest struct {
	OrderID string `json:"orderId"`
}

// JoinOrderWatchResponse 加入訂單監看的回應
type JoinOrderWatchResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId"`
	Message string `json:"message,omitempty"`
}

// ErrorMessage 錯誤推送
type ErrorMessage struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}
