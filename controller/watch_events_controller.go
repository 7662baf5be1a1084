package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"right-rider/middleware"
	"right-rider/model"
	"right-rider/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WatchEventsController 以 SSE 推送畫面導航，前端據此切換到行程畫面或返回表單
type WatchEventsController struct {
	logger    zerolog.Logger
	snapshot  func() (model.WatchSnapshot, error)
	clients   map[string]*WatchEventsClient
	clientsMu sync.RWMutex
}

// WatchEventsClient 一個 SSE 連線
type WatchEventsClient struct {
	ID      string
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Events  chan WatchEvent
}

// WatchEvent SSE 事件
type WatchEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// NewWatchEventsController snapshot 提供連線時的初始狀態
func NewWatchEventsController(logger zerolog.Logger, snapshot func() (model.WatchSnapshot, error)) *WatchEventsController {
	return &WatchEventsController{
		logger:   logger.With().Str("module", "watch_events_controller").Logger(),
		snapshot: snapshot,
		clients:  make(map[string]*WatchEventsClient),
	}
}

func (c *WatchEventsController) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	client := &WatchEventsClient{
		ID:      uuid.NewString(),
		Writer:  w,
		Flusher: flusher,
		Events:  make(chan WatchEvent, 16),
	}

	c.registerClient(client)
	defer c.unregisterClient(client)

	initial := WatchEvent{Event: "connected", Data: map[string]interface{}{"client_id": client.ID}}
	if snapshot, err := c.snapshot(); err == nil {
		initial.Data = snapshot
	}
	if !c.sendEvent(client, initial) {
		return
	}

	for {
		select {
		case event := <-client.Events:
			if !c.sendEvent(client, event) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (c *WatchEventsController) registerClient(client *WatchEventsClient) {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()
	c.clients[client.ID] = client
	middleware.UpdateWatchEventClients(len(c.clients))
	c.logger.Debug().Str("client_id", client.ID).Msg("SSE 客戶端已連接")
}

func (c *WatchEventsController) unregisterClient(client *WatchEventsClient) {
	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()
	delete(c.clients, client.ID)
	middleware.UpdateWatchEventClients(len(c.clients))
	c.logger.Debug().Str("client_id", client.ID).Msg("SSE 客戶端已斷開連接")
}

func (c *WatchEventsController) sendEvent(client *WatchEventsClient, event WatchEvent) bool {
	data, err := json.Marshal(event.Data)
	if err != nil {
		c.logger.Error().Err(err).Msg("序列化事件資料失敗")
		return false
	}

	if _, err := fmt.Fprintf(client.Writer, "event: %s\ndata: %s\n\n", event.Event, data); err != nil {
		c.logger.Debug().Err(err).Str("client_id", client.ID).Msg("發送 SSE 事件失敗")
		return false
	}
	client.Flusher.Flush()
	return true
}

// BroadcastNavigation 推送導航事件，不阻塞呼叫者
func (c *WatchEventsController) BroadcastNavigation(nav service.Navigation) {
	event := WatchEvent{Event: "navigation", Data: nav}

	c.clientsMu.RLock()
	defer c.clientsMu.RUnlock()
	for _, client := range c.clients {
		select {
		case client.Events <- event:
		default:
			c.logger.Warn().Str("client_id", client.ID).Msg("跳過客戶端，事件隊列已滿")
		}
	}
}

// ClientCount 目前連線數
func (c *WatchEventsController) ClientCount() int {
	c.clientsMu.RLock()
	defer c.clientsMu.RUnlock()
	return len(c.clients)
}

// GetSSEHandler 用於在 Chi 路由器上註冊
func (c *WatchEventsController) GetSSEHandler() http.HandlerFunc {
	return c.handleSSE
}
