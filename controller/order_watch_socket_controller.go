package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"right-rider/auth"
	websocketModels "right-rider/data-models/websocket"
	"right-rider/middleware"
	"right-rider/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// OrderWatchSocketController 模擬後端的訂單監看 WebSocket 中心。
// 乘客端以 join_order_watch 加入某訂單，司機指派時推送 driver_assigned。
type OrderWatchSocketController struct {
	logger        zerolog.Logger
	jwtSecretKey  string
	config        *websocketModels.ConnectionConfig
	upgrader      websocket.Upgrader
	connections   map[string]*websocketModels.Connection
	watchers      map[string]map[string]*websocketModels.Connection // orderID -> connID -> conn
	connectionsMu sync.RWMutex
}

func NewOrderWatchSocketController(logger zerolog.Logger, jwtSecretKey string) *OrderWatchSocketController {
	config := websocketModels.DefaultConnectionConfig()
	return &OrderWatchSocketController{
		logger:       logger.With().Str("module", "order_watch_socket_controller").Logger(),
		jwtSecretKey: jwtSecretKey,
		config:       config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: config.HandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				return true // 允許跨域
			},
		},
		connections: make(map[string]*websocketModels.Connection),
		watchers:    make(map[string]map[string]*websocketModels.Connection),
	}
}

// handleWebSocket token 可省略，帶了就必須有效
func (c *OrderWatchSocketController) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var riderID string
	if token := r.URL.Query().Get("token"); token != "" {
		claims, err := auth.ValidateJWTToken(token, c.jwtSecretKey)
		if err != nil {
			c.logger.Warn().Err(err).Msg("token驗證失敗")
			http.Error(w, "token驗證失敗", http.StatusUnauthorized)
			return
		}
		riderID, _ = claims["rider_id"].(string)
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Error().Err(err).Msg("WebSocket升級失敗")
		return
	}

	connection := &websocketModels.Connection{
		ID:           uuid.NewString(),
		RiderID:      riderID,
		Conn:         conn,
		LastPing:     time.Now(),
		SendChannel:  make(chan []byte, 64),
		CloseChannel: make(chan struct{}),
		Status:       websocketModels.ConnectionStatusConnected,
		OrderIDs:     make(map[string]bool),
	}

	c.registerConnection(connection)

	go c.handleSender(connection)
	go c.handleReader(connection)

	<-connection.CloseChannel
	c.unregisterConnection(connection)
}

func (c *OrderWatchSocketController) registerConnection(conn *websocketModels.Connection) {
	c.connectionsMu.Lock()
	c.connections[conn.ID] = conn
	total := len(c.connections)
	c.connectionsMu.Unlock()

	middleware.UpdateWebSocketConnections(total)
	c.logger.Debug().Str("conn_id", conn.ID).Str("rider_id", conn.RiderID).Msg("監看連線建立")
}

func (c *OrderWatchSocketController) unregisterConnection(conn *websocketModels.Connection) {
	c.connectionsMu.Lock()
	delete(c.connections, conn.ID)
	for orderID := range conn.OrderIDs {
		c.removeWatcherLocked(orderID, conn.ID)
	}
	conn.Status = websocketModels.ConnectionStatusDisconnected
	total := len(c.connections)
	c.connectionsMu.Unlock()

	middleware.UpdateWebSocketConnections(total)
	c.logger.Debug().Str("conn_id", conn.ID).Msg("監看連線關閉")
}

func (c *OrderWatchSocketController) removeWatcherLocked(orderID, connID string) {
	if watchers, ok := c.watchers[orderID]; ok {
		delete(watchers, connID)
		if len(watchers) == 0 {
			delete(c.watchers, orderID)
		}
	}
}

func (c *OrderWatchSocketController) handleReader(conn *websocketModels.Connection) {
	defer conn.Close()

	conn.Conn.SetReadLimit(c.config.ReadLimit)
	conn.Conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		c.connectionsMu.Lock()
		conn.LastPing = time.Now()
		c.connectionsMu.Unlock()
		return nil
	})

	for {
		_, messageBytes, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error().Err(err).Str("conn_id", conn.ID).Msg("Websocket read error")
			}
			return
		}
		conn.Conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		var message websocketModels.WSMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			c.sendError(conn, websocketModels.ErrorTypeInvalidMessage, "無法解析消息")
			continue
		}
		c.handleMessage(conn, message)
	}
}

func (c *OrderWatchSocketController) handleSender(conn *websocketModels.Connection) {
	pingTicker := time.NewTicker(c.config.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case message := <-conn.SendChannel:
			conn.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error().Err(err).Str("conn_id", conn.ID).Msg("發送訊息失敗")
				conn.Close()
				return
			}
		case <-pingTicker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-conn.CloseChannel:
			return
		}
	}
}

func (c *OrderWatchSocketController) handleMessage(conn *websocketModels.Connection, message websocketModels.WSMessage) {
	switch message.Type {
	case websocketModels.MessageTypePing:
		c.connectionsMu.Lock()
		conn.LastPing = time.Now()
		c.connectionsMu.Unlock()
		c.send(conn, websocketModels.MessageTypePong, websocketModels.PongResponse{Timestamp: time.Now().Unix()})

	case websocketModels.MessageTypeJoinOrderWatch:
		var req websocketModels.JoinOrderWatchRequest
		if err := json.Unmarshal(message.Data, &req); err != nil || req.OrderID == "" {
			c.sendError(conn, websocketModels.ErrorTypeInvalidMessage, "缺少訂單ID")
			return
		}
		if req.Token != "" {
			tokenOrderID, err := auth.OrderIDFromClientToken(req.Token, c.jwtSecretKey)
			if err != nil {
				c.sendError(conn, websocketModels.ErrorTypeInvalidToken, "token無效")
				return
			}
			if tokenOrderID != req.OrderID {
				c.sendError(conn, websocketModels.ErrorTypeOrderMismatch, "token 與訂單不符")
				return
			}
		}

		c.connectionsMu.Lock()
		conn.OrderIDs[req.OrderID] = true
		if c.watchers[req.OrderID] == nil {
			c.watchers[req.OrderID] = make(map[string]*websocketModels.Connection)
		}
		c.watchers[req.OrderID][conn.ID] = conn
		c.connectionsMu.Unlock()

		c.logger.Info().Str("conn_id", conn.ID).Str("order_id", req.OrderID).Msg("加入訂單監看")
		c.send(conn, websocketModels.MessageTypeJoinOrderWatchResponse, websocketModels.JoinOrderWatchResponse{
			Success: true,
			OrderID: req.OrderID,
		})

	case websocketModels.MessageTypeLeaveOrderWatch:
		var req websocketModels.LeaveOrderWatchRequest
		if err := json.Unmarshal(message.Data, &req); err != nil {
			c.sendError(conn, websocketModels.ErrorTypeInvalidMessage, "無法解析消息")
			return
		}
		c.connectionsMu.Lock()
		delete(conn.OrderIDs, req.OrderID)
		c.removeWatcherLocked(req.OrderID, conn.ID)
		c.connectionsMu.Unlock()
		c.logger.Info().Str("conn_id", conn.ID).Str("order_id", req.OrderID).Msg("離開訂單監看")

	default:
		c.logger.Warn().
			Str("conn_id", conn.ID).
			Str("message_type", message.Type).
			Msg("未知的 WebSocket 消息類型")
		c.sendError(conn, websocketModels.ErrorTypeUnsupportedMessage, "不支援的消息類型")
	}
}

func (c *OrderWatchSocketController) send(conn *websocketModels.Connection, messageType string, data interface{}) bool {
	message, err := websocketModels.NewMessage(messageType, data)
	if err != nil {
		c.logger.Error().Err(err).Msg("序列化消息失敗")
		return false
	}
	payload, err := json.Marshal(message)
	if err != nil {
		c.logger.Error().Err(err).Msg("序列化消息失敗")
		return false
	}

	select {
	case conn.SendChannel <- payload:
		return true
	case <-conn.CloseChannel:
		return false
	default:
		c.logger.Error().Str("conn_id", conn.ID).Msg("發送失敗：發送頻道已滿")
		return false
	}
}

func (c *OrderWatchSocketController) sendError(conn *websocketModels.Connection, errorType websocketModels.ErrorType, text string) {
	c.send(conn, websocketModels.MessageTypeError, websocketModels.ErrorMessage{Type: errorType, Message: text})
}

// PublishDriverAssigned 推送 driver_assigned 給監看該訂單的所有連線
func (c *OrderWatchSocketController) PublishDriverAssigned(ctx context.Context, event model.DriverAssignedEvent) error {
	c.connectionsMu.RLock()
	targets := make([]*websocketModels.Connection, 0, len(c.watchers[event.OrderID]))
	for _, conn := range c.watchers[event.OrderID] {
		targets = append(targets, conn)
	}
	c.connectionsMu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if c.send(conn, websocketModels.MessageTypeDriverAssigned, event) {
			delivered++
		}
	}

	c.logger.Info().
		Str("order_id", event.OrderID).
		Str("driver_id", event.DriverID).
		Int("watchers", len(targets)).
		Int("delivered", delivered).
		Msg("推送司機指派事件")
	return nil
}

func (c *OrderWatchSocketController) GetWebSocketHandler() http.HandlerFunc {
	return c.handleWebSocket
}

func (c *OrderWatchSocketController) GetStats() *websocketModels.ConnectionStats {
	c.connectionsMu.RLock()
	defer c.connectionsMu.RUnlock()

	watchersByOrder := make(map[string]int, len(c.watchers))
	for orderID, watchers := range c.watchers {
		watchersByOrder[orderID] = len(watchers)
	}

	return &websocketModels.ConnectionStats{
		TotalConnections: len(c.connections),
		WatchedOrders:    len(c.watchers),
		WatchersByOrder:  watchersByOrder,
	}
}
