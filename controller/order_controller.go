package controller

import (
	"context"
	"errors"
	"strings"
	"time"

	"right-rider/auth"
	"right-rider/data-models/order"
	"right-rider/model"
	"right-rider/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OrderController 模擬後端的訂單 API
type OrderController struct {
	logger         zerolog.Logger
	orderBook      *service.OrderBook
	jwtSecretKey   string
	clientTokenTTL time.Duration
	riderTokenTTL  time.Duration
}

func NewOrderController(logger zerolog.Logger, orderBook *service.OrderBook, jwtSecretKey string, clientTokenTTL time.Duration) *OrderController {
	return &OrderController{
		logger:         logger.With().Str("module", "order_controller").Logger(),
		orderBook:      orderBook,
		jwtSecretKey:   jwtSecretKey,
		clientTokenTTL: clientTokenTTL,
		riderTokenTTL:  24 * time.Hour,
	}
}

func (c *OrderController) riderID(authorization string) (string, error) {
	token := strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
	if token == "" {
		return "", huma.Error401Unauthorized("缺少乘客 token")
	}
	riderID, err := auth.RiderIDFromToken(token, c.jwtSecretKey)
	if err != nil {
		return "", huma.Error401Unauthorized("乘客 token 無效", err)
	}
	return riderID, nil
}

func (c *OrderController) RegisterRoutes(api huma.API) {
	// 發行開發用乘客 token
	huma.Register(api, huma.Operation{
		OperationID: "issue-rider-token",
		Method:      "POST",
		Path:        "/dev/rider-token",
		Summary:     "發行乘客 token(開發用)",
		Tags:        []string{"develop"},
	}, func(ctx context.Context, input *order.IssueRiderTokenInput) (*order.RiderTokenResponse, error) {
		riderID := input.Body.RiderID
		if riderID == "" {
			riderID = uuid.NewString()
		}
		token, err := auth.IssueRiderToken(riderID, c.jwtSecretKey, c.riderTokenTTL)
		if err != nil {
			return nil, huma.Error500InternalServerError("發行 token 失敗", err)
		}
		resp := &order.RiderTokenResponse{}
		resp.Body.RiderID = riderID
		resp.Body.Token = token
		return resp, nil
	})

	// 乘客目前的訂單
	huma.Register(api, huma.Operation{
		OperationID: "get-active-order",
		Method:      "GET",
		Path:        "/orders/active",
		Summary:     "取得乘客進行中的訂單",
		Tags:        []string{"orders"},
	}, func(ctx context.Context, input *order.GetActiveOrderInput) (*order.ActiveOrderResponse, error) {
		riderID, err := c.riderID(input.Authorization)
		if err != nil {
			return nil, err
		}

		active := c.orderBook.ActiveOrder(ctx, riderID)
		if active == nil {
			return &order.ActiveOrderResponse{Body: &model.ActiveOrderResponse{HasActiveOrder: false}}, nil
		}

		body := &model.ActiveOrderResponse{HasActiveOrder: true, Order: active.ToActive()}
		if active.Status.IsDriverAssigned() {
			token, err := auth.IssueClientToken(riderID, active.ID, c.jwtSecretKey, c.clientTokenTTL)
			if err != nil {
				c.logger.Error().Err(err).Str("order_id", active.ID).Msg("發行客戶端 token 失敗")
			} else {
				body.ClientToken = token
			}
		}
		return &order.ActiveOrderResponse{Body: body}, nil
	})

	// 建立訂單
	huma.Register(api, huma.Operation{
		OperationID: "create-order",
		Method:      "POST",
		Path:        "/orders",
		Summary:     "建立叫車訂單",
		Tags:        []string{"orders"},
	}, func(ctx context.Context, input *order.CreateOrderInput) (*order.OrderResponse, error) {
		riderID, err := c.riderID(input.Authorization)
		if err != nil {
			return nil, err
		}

		o, err := c.orderBook.CreateOrder(ctx, riderID, input.Body.PickupAddress, input.Body.DestinationAddress)
		if err != nil {
			if errors.Is(err, service.ErrActiveOrderExists) {
				return nil, huma.Error409Conflict("乘客已有進行中的訂單", err)
			}
			c.logger.Error().Err(err).Msg("建立訂單失敗")
			return nil, huma.Error400BadRequest("建立訂單失敗", err)
		}
		return &order.OrderResponse{Body: o}, nil
	})

	// 指派司機
	huma.Register(api, huma.Operation{
		OperationID: "assign-driver",
		Method:      "POST",
		Path:        "/orders/{orderID}/assign",
		Summary:     "指派司機",
		Tags:        []string{"orders"},
	}, func(ctx context.Context, input *order.AssignDriverInput) (*order.OrderResponse, error) {
		o, err := c.orderBook.AssignDriver(ctx, input.OrderID, input.Body.DriverID, input.Body.DriverName)
		if err != nil {
			return nil, c.mapError("指派司機失敗", err)
		}
		return &order.OrderResponse{Body: o}, nil
	})

	// 更新訂單狀態
	huma.Register(api, huma.Operation{
		OperationID: "update-order-status",
		Method:      "POST",
		Path:        "/orders/{orderID}/status",
		Summary:     "更新訂單狀態(開發用)",
		Tags:        []string{"orders"},
	}, func(ctx context.Context, input *order.UpdateStatusInput) (*order.OrderResponse, error) {
		o, err := c.orderBook.UpdateStatus(ctx, input.OrderID, input.Body.Status)
		if err != nil {
			return nil, c.mapError("更新訂單狀態失敗", err)
		}
		return &order.OrderResponse{Body: o}, nil
	})

	// 乘客取消
	huma.Register(api, huma.Operation{
		OperationID: "cancel-order",
		Method:      "POST",
		Path:        "/orders/{orderID}/cancel",
		Summary:     "乘客取消訂單",
		Tags:        []string{"orders"},
	}, func(ctx context.Context, input *order.CancelOrderInput) (*order.SimpleResponse, error) {
		riderID, err := c.riderID(input.Authorization)
		if err != nil {
			return nil, err
		}
		if _, err := c.orderBook.CancelOrder(ctx, riderID, input.OrderID); err != nil {
			return nil, c.mapError("取消訂單失敗", err)
		}
		return &order.SimpleResponse{Body: order.SimpleResponseData{Success: true, Message: "訂單已取消"}}, nil
	})
}

func (c *OrderController) mapError(message string, err error) error {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		return huma.Error404NotFound("訂單不存在", err)
	case errors.Is(err, service.ErrOrderNotOwned):
		return huma.Error403Forbidden("訂單不屬於此乘客", err)
	case errors.Is(err, service.ErrOrderNotSearching):
		return huma.Error409Conflict("訂單不在尋找司機狀態", err)
	case errors.Is(err, service.ErrInvalidStatus):
		return huma.Error400BadRequest("無效的訂單狀態", err)
	default:
		c.logger.Error().Err(err).Msg(message)
		return huma.Error500InternalServerError(message, err)
	}
}
