package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"right-rider/model"
	"right-rider/service/interfaces"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const maxStatusBodyBytes = 1 << 20

// OrderStatusClient 呼叫後端訂單 REST 端點
type OrderStatusClient struct {
	logger     zerolog.Logger
	Client     *http.Client
	BaseURL    string
	RiderToken string
}

func NewOrderStatusClient(logger zerolog.Logger, baseURL, riderToken string, timeout time.Duration) *OrderStatusClient {
	return &OrderStatusClient{
		logger:     logger.With().Str("module", "order_status_client").Logger(),
		Client:     &http.Client{Timeout: timeout},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		RiderToken: riderToken,
	}
}

// GetActiveOrder 查詢呼叫者目前進行中的訂單
func (c *OrderStatusClient) GetActiveOrder(ctx context.Context) (*model.ActiveOrderResponse, error) {
	body, err := c.do(ctx, http.MethodGet, "/orders/active")
	if err != nil {
		return nil, err
	}

	var resp model.ActiveOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedPayload, err)
	}
	if resp.HasActiveOrder && resp.Order == nil {
		return nil, fmt.Errorf("%w: hasActiveOrder 為 true 但缺少 order", interfaces.ErrMalformedPayload)
	}
	return &resp, nil
}

// CancelOrder 取消訂單
func (c *OrderStatusClient) CancelOrder(ctx context.Context, orderID string) error {
	if _, err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/cancel"); err != nil {
		return err
	}
	c.logger.Info().Str("order_id", orderID).Msg("訂單已取消")
	return nil
}

func (c *OrderStatusClient) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("建立請求失敗: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.RiderToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.RiderToken)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s 失敗: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("讀取回應失敗: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s 回傳錯誤: %s - %s", method, path, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

var _ interfaces.OrderStatusAPI = (*OrderStatusClient)(nil)
