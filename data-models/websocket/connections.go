package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection 訂單監看的WebSocket連接
type Connection struct {
	ID           string           `json:"id"`                 // 連線ID
	RiderID      string           `json:"rider_id,omitempty"` // token 內的乘客ID
	Conn         *websocket.Conn  `json:"-"`                  // WebSocket連接
	LastPing     time.Time        `json:"last_ping"`          // 最後ping時間
	SendChannel  chan []byte      `json:"-"`                  // 發送通道
	CloseChannel chan struct{}    `json:"-"`                  // 關閉通道
	CloseOnce    sync.Once        `json:"-"`                  // 確保只關閉一次
	Status       ConnectionStatus `json:"status"`             // 連接狀態
	OrderIDs     map[string]bool  `json:"order_ids"`          // 監看中的訂單
}

// Close 關閉連線，可重複呼叫
func (c *Connection) Close() {
	c.CloseOnce.Do(func() {
		close(c.CloseChannel)
	})
	if c.Conn != nil {
		c.Conn.Close()
	}
}

// ConnectionStats 連線統計資訊
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	WatchedOrders    int            `json:"watched_orders"`
	WatchersByOrder  map[string]int `json:"watchers_by_order"`
}

// ConnectionConfig WebSocket 連線設定
type ConnectionConfig struct {
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	ReadTimeout      time.Duration `json:"read_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	PingInterval     time.Duration `json:"ping_interval"`
	ReadLimit        int64         `json:"read_limit"`
}

// DefaultConnectionConfig 預設連線設定
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     10 * time.Second,
		ReadLimit:        4096,
	}
}
