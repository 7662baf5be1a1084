package watch

import (
	"right-rider/model"
)

// WatchBody 監看端點的回傳結構
type WatchBody struct {
	Success bool                 `json:"success" doc:"請求是否成功"`
	Message string               `json:"message" doc:"回傳訊息"`
	Data    *model.WatchSnapshot `json:"data,omitempty" doc:"監看狀態快照"`
}

// NewWatchBody 以快照建立成功回傳
func NewWatchBody(message string, snapshot model.WatchSnapshot) *WatchBody {
	return &WatchBody{
		Success: true,
		Message: message,
		Data:    &snapshot,
	}
}

type GetWatchInput struct{}

type WatchResponse struct {
	Body *WatchBody
}

type CancelWatchInput struct{}

type CancelWatchResponse struct {
	Body *WatchBody
}
