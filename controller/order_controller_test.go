package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"right-rider/auth"
	"right-rider/model"
	"right-rider/service"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newOrderAPI(t *testing.T) (humatest.TestAPI, *service.OrderBook) {
	t.Helper()
	_, api := humatest.New(t)
	book := service.NewOrderBook(zerolog.Nop())
	NewOrderController(zerolog.Nop(), book, testSecret, 30*time.Minute).RegisterRoutes(api)
	return api, book
}

func riderHeader(t *testing.T, riderID string) string {
	t.Helper()
	token, err := auth.IssueRiderToken(riderID, testSecret, time.Hour)
	require.NoError(t, err)
	return "Authorization: Bearer " + token
}

func decodeActive(t *testing.T, body []byte) model.ActiveOrderResponse {
	t.Helper()
	var resp model.ActiveOrderResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestOrderController_ActiveOrderFlow(t *testing.T) {
	api, _ := newOrderAPI(t)
	header := riderHeader(t, "rider-1")

	resp := api.Get("/orders/active", header)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, decodeActive(t, resp.Body.Bytes()).HasActiveOrder)

	resp = api.Post("/orders", header, map[string]any{
		"pickup_address":      "Papeete Marina",
		"destination_address": "Faa'a Airport",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var created model.Order
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	assert.Equal(t, model.OrderStatusSearching, created.Status)

	resp = api.Get("/orders/active", header)
	active := decodeActive(t, resp.Body.Bytes())
	require.True(t, active.HasActiveOrder)
	assert.Equal(t, created.ID, active.Order.ID)
	assert.Empty(t, active.ClientToken)

	resp = api.Post("/orders/"+created.ID+"/assign", map[string]any{
		"driver_id":   "d1",
		"driver_name": "Moana",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = api.Get("/orders/active", header)
	active = decodeActive(t, resp.Body.Bytes())
	require.NotNil(t, active.Order)
	assert.Equal(t, model.OrderStatusAccepted, active.Order.Status)
	assert.Equal(t, "Moana", active.Order.DriverName)
	assert.Equal(t, "d1", active.Order.AssignedDriverID)
	require.NotEmpty(t, active.ClientToken)

	claims, err := auth.ValidateJWTToken(active.ClientToken, testSecret)
	require.NoError(t, err)
	assert.Equal(t, created.ID, claims["order_id"])
	assert.Equal(t, string(model.TokenTypeClient), claims["type"])
}

func TestOrderController_RequiresRiderToken(t *testing.T) {
	api, _ := newOrderAPI(t)

	resp := api.Get("/orders/active")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = api.Get("/orders/active", "Authorization: Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestOrderController_CancelOrder(t *testing.T) {
	api, book := newOrderAPI(t)
	order, err := book.CreateOrder(context.Background(), "rider-1", "A", "B")
	require.NoError(t, err)

	resp := api.Post("/orders/"+order.ID+"/cancel", riderHeader(t, "rider-2"))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = api.Post("/orders/"+order.ID+"/cancel", riderHeader(t, "rider-1"))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	got, err := book.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, got.Status)

	resp = api.Post("/orders/"+order.ID+"/assign", map[string]any{"driver_id": "d1", "driver_name": "Moana"})
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestOrderController_UpdateStatus(t *testing.T) {
	api, book := newOrderAPI(t)
	order, err := book.CreateOrder(context.Background(), "rider-1", "A", "B")
	require.NoError(t, err)

	resp := api.Post("/orders/"+order.ID+"/status", map[string]any{"status": "in_progress"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = api.Post("/orders/missing/status", map[string]any{"status": "in_progress"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestOrderController_IssueRiderToken(t *testing.T) {
	api, _ := newOrderAPI(t)

	resp := api.Post("/dev/rider-token", map[string]any{"rider_id": "rider-9"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body struct {
		RiderID string `json:"rider_id"`
		Token   string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "rider-9", body.RiderID)

	riderID, err := auth.RiderIDFromToken(body.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "rider-9", riderID)
}
