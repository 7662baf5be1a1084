package controller

import (
	"context"
	"errors"

	"right-rider/data-models/watch"
	"right-rider/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
)

// WatchController 乘客端「尋找司機中」畫面的狀態與取消
type WatchController struct {
	logger       zerolog.Logger
	watchService *service.WatchService
}

func NewWatchController(logger zerolog.Logger, watchService *service.WatchService) *WatchController {
	return &WatchController{
		logger:       logger.With().Str("module", "watch_controller").Logger(),
		watchService: watchService,
	}
}

func (c *WatchController) RegisterRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-watch",
		Method:      "GET",
		Path:        "/watch",
		Summary:     "取得目前訂單監看狀態",
		Tags:        []string{"watch"},
	}, func(ctx context.Context, input *watch.GetWatchInput) (*watch.WatchResponse, error) {
		snapshot, err := c.watchService.Status()
		if err != nil {
			if errors.Is(err, service.ErrNoActiveWatch) {
				return nil, huma.Error404NotFound("目前沒有監看中的訂單")
			}
			return nil, huma.Error500InternalServerError("取得監看狀態失敗", err)
		}
		return &watch.WatchResponse{Body: watch.NewWatchBody("ok", snapshot)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-watch",
		Method:      "POST",
		Path:        "/watch/cancel",
		Summary:     "取消叫車並停止監看",
		Tags:        []string{"watch"},
	}, func(ctx context.Context, input *watch.CancelWatchInput) (*watch.CancelWatchResponse, error) {
		snapshot, err := c.watchService.Cancel()
		if err != nil {
			if errors.Is(err, service.ErrNoActiveWatch) {
				return nil, huma.Error404NotFound("目前沒有監看中的訂單")
			}
			return nil, huma.Error500InternalServerError("取消監看失敗", err)
		}
		c.logger.Info().Str("order_id", snapshot.OrderID).Str("state", string(snapshot.State)).Msg("使用者取消叫車")
		return &watch.CancelWatchResponse{Body: watch.NewWatchBody("已取消", snapshot)}, nil
	})
}
