package auth

import (
	"testing"
	"time"

	"right-rider/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestRiderToken(t *testing.T) {
	token, err := IssueRiderToken("rider-1", testSecret, time.Hour)
	require.NoError(t, err)

	riderID, err := RiderIDFromToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "rider-1", riderID)

	_, err = RiderIDFromToken(token, "other-secret")
	assert.Error(t, err)

	expired, err := IssueRiderToken("rider-1", testSecret, -time.Minute)
	require.NoError(t, err)
	_, err = ValidateJWTToken(expired, testSecret)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestInspectClientToken(t *testing.T) {
	now := time.Now()

	valid, err := IssueClientToken("rider-1", "ord-1", testSecret, 30*time.Minute)
	require.NoError(t, err)
	claims, err := InspectClientToken(valid, now)
	require.NoError(t, err)
	assert.Equal(t, "rider-1", claims.RiderID)
	assert.Equal(t, "ord-1", claims.OrderID)
	assert.Equal(t, model.TokenTypeClient, claims.Type)
	assert.True(t, claims.ExpiresAt.After(now))

	// 不驗簽，其他金鑰簽的 token 也能讀取
	foreign, err := IssueClientToken("rider-1", "ord-1", "other-secret", 30*time.Minute)
	require.NoError(t, err)
	_, err = InspectClientToken(foreign, now)
	assert.NoError(t, err)

	_, err = InspectClientToken(valid, now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = InspectClientToken("opaque-token", now)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestOrderIDFromClientToken(t *testing.T) {
	clientToken, err := IssueClientToken("rider-1", "ord-1", testSecret, time.Minute)
	require.NoError(t, err)

	orderID, err := OrderIDFromClientToken(clientToken, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", orderID)

	_, err = OrderIDFromClientToken(clientToken, "other-secret")
	assert.Error(t, err)

	riderToken, err := IssueRiderToken("rider-1", testSecret, time.Minute)
	require.NoError(t, err)
	_, err = OrderIDFromClientToken(riderToken, testSecret)
	assert.ErrorIs(t, err, ErrInvalidTokenType)

	expired, err := IssueClientToken("rider-1", "ord-1", testSecret, -time.Minute)
	require.NoError(t, err)
	_, err = OrderIDFromClientToken(expired, testSecret)
	assert.ErrorIs(t, err, ErrTokenExpired)
}
