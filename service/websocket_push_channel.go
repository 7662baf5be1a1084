package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	websocketModels "right-rider/data-models/websocket"
	"right-rider/model"
	"right-rider/service/interfaces"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocketPushChannel 透過 WebSocket 的 join_order_watch 訂閱司機指派事件
type WebSocketPushChannel struct {
	logger zerolog.Logger
	URL    string
	dialer *websocket.Dialer
	config *websocketModels.ConnectionConfig
}

func NewWebSocketPushChannel(logger zerolog.Logger, wsURL string) *WebSocketPushChannel {
	config := websocketModels.DefaultConnectionConfig()
	return &WebSocketPushChannel{
		logger: logger.With().Str("module", "websocket_push_channel").Logger(),
		URL:    wsURL,
		dialer: &websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
		config: config,
	}
}

func (p *WebSocketPushChannel) Transport() string {
	return string(model.PushTransportWebSocket)
}

// JoinOrderWatch 建立連線並送出 join_order_watch
func (p *WebSocketPushChannel) JoinOrderWatch(ctx context.Context, orderID string, token string, handler interfaces.DriverAssignedHandler) (interfaces.Subscription, error) {
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("WebSocket URL 格式錯誤: %w", err)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := p.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket 連線失敗: %w", err)
	}

	sub := &wsSubscription{
		logger:  p.logger.With().Str("order_id", orderID).Logger(),
		conn:    conn,
		orderID: orderID,
		handler: handler,
		config:  p.config,
		done:    make(chan struct{}),
	}

	join, err := websocketModels.NewMessage(websocketModels.MessageTypeJoinOrderWatch, websocketModels.JoinOrderWatchRequest{
		OrderID: orderID,
		Token:   token,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := sub.write(join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("送出 join_order_watch 失敗: %w", err)
	}

	go sub.readLoop()
	go sub.pingLoop()

	return sub, nil
}

type wsSubscription struct {
	logger  zerolog.Logger
	conn    *websocket.Conn
	orderID string
	handler interfaces.DriverAssignedHandler
	config  *websocketModels.ConnectionConfig

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func (s *wsSubscription) write(message websocketModels.WSMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSubscription) readLoop() {
	defer s.closeConn()

	s.conn.SetReadLimit(s.config.ReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() {
				// 連線中斷不致命，輪詢會接手
				s.logger.Warn().Err(err).Msg("推播連線中斷，改依賴輪詢")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		var message websocketModels.WSMessage
		if err := json.Unmarshal(data, &message); err != nil {
			s.logger.Warn().Err(err).Msg("無法解析 WebSocket 消息")
			continue
		}
		s.handleMessage(message)
	}
}

func (s *wsSubscription) handleMessage(message websocketModels.WSMessage) {
	switch message.Type {
	case websocketModels.MessageTypeDriverAssigned:
		var event model.DriverAssignedEvent
		if err := json.Unmarshal(message.Data, &event); err != nil {
			s.logger.Warn().Err(err).Msg("司機指派事件格式錯誤")
			return
		}
		if s.closed.Load() {
			return
		}
		s.handler(event)

	case websocketModels.MessageTypeJoinOrderWatchResponse:
		var resp websocketModels.JoinOrderWatchResponse
		if err := json.Unmarshal(message.Data, &resp); err == nil && !resp.Success {
			s.logger.Warn().Str("message", resp.Message).Msg("加入訂單監看被拒絕")
		}

	case websocketModels.MessageTypeError:
		var errMsg websocketModels.ErrorMessage
		if err := json.Unmarshal(message.Data, &errMsg); err == nil {
			s.logger.Warn().Str("error_type", string(errMsg.Type)).Str("message", errMsg.Message).Msg("WebSocket 伺服器錯誤")
		}

	case websocketModels.MessageTypePong, websocketModels.MessageTypeOrderStatusUpdate:
		// 不影響監看

	default:
		s.logger.Debug().Str("message_type", message.Type).Msg("未知的 WebSocket 消息類型")
	}
}

func (s *wsSubscription) pingLoop() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// Unsubscribe 送出 leave_order_watch 後關閉連線
func (s *wsSubscription) Unsubscribe() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	if leave, err := websocketModels.NewMessage(websocketModels.MessageTypeLeaveOrderWatch, websocketModels.LeaveOrderWatchRequest{OrderID: s.orderID}); err == nil {
		if err := s.write(leave); err != nil {
			s.logger.Debug().Err(err).Msg("送出 leave_order_watch 失敗")
		}
	}

	s.writeMu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()

	s.closeConn()
}

func (s *wsSubscription) closeConn() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

var _ interfaces.PushChannel = (*WebSocketPushChannel)(nil)
