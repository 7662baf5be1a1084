package auth

import (
	"errors"
	"fmt"
	"time"

	"right-rider/model"

	"github.com/golang-jwt/jwt/v5"
)

// JWT 驗證相關的通用錯誤
var (
	ErrInvalidToken            = errors.New("invalid token")
	ErrTokenExpired            = errors.New("token expired")
	ErrInvalidTokenType        = errors.New("invalid token type")
	ErrMissingRiderID          = errors.New("missing rider_id in token")
	ErrMissingOrderID          = errors.New("missing order_id in token")
	ErrUnexpectedSigningMethod = errors.New("unexpected signing method")
)

// ClientTokenClaims 短效客戶端 token 內容
type ClientTokenClaims struct {
	RiderID   string
	OrderID   string
	Type      model.TokenType
	ExpiresAt time.Time
}

// ValidateJWTToken 通用的 JWT token 驗證函數
func ValidateJWTToken(tokenString string, jwtSecretKey string) (map[string]interface{}, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnexpectedSigningMethod
		}
		return []byte(jwtSecretKey), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, err
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	result := make(map[string]interface{})
	for key, value := range claims {
		result[key] = value
	}

	return result, nil
}

// RiderIDFromToken 驗證乘客 token 並取出乘客ID
func RiderIDFromToken(tokenString, jwtSecretKey string) (string, error) {
	claims, err := ValidateJWTToken(tokenString, jwtSecretKey)
	if err != nil {
		return "", err
	}
	riderID, ok := claims["rider_id"].(string)
	if !ok || riderID == "" {
		return "", ErrMissingRiderID
	}
	return riderID, nil
}

// OrderIDFromClientToken 驗證客戶端 token 並取出綁定的訂單ID
func OrderIDFromClientToken(tokenString, jwtSecretKey string) (string, error) {
	claims, err := ValidateJWTToken(tokenString, jwtSecretKey)
	if err != nil {
		return "", err
	}
	if tokenType, _ := claims["type"].(string); tokenType != string(model.TokenTypeClient) {
		return "", ErrInvalidTokenType
	}
	orderID, ok := claims["order_id"].(string)
	if !ok || orderID == "" {
		return "", ErrMissingOrderID
	}
	return orderID, nil
}

// IssueRiderToken 發行乘客 session token
func IssueRiderToken(riderID, jwtSecretKey string, ttl time.Duration) (string, error) {
	return sign(jwt.MapClaims{
		"type":     string(model.TokenTypeRider),
		"rider_id": riderID,
		"exp":      time.Now().Add(ttl).Unix(),
		"iat":      time.Now().Unix(),
	}, jwtSecretKey)
}

// IssueClientToken 發行訂單監看用的短效 token
func IssueClientToken(riderID, orderID, jwtSecretKey string, ttl time.Duration) (string, error) {
	return sign(jwt.MapClaims{
		"type":     string(model.TokenTypeClient),
		"rider_id": riderID,
		"order_id": orderID,
		"exp":      time.Now().Add(ttl).Unix(),
		"iat":      time.Now().Unix(),
	}, jwtSecretKey)
}

func sign(claims jwt.MapClaims, jwtSecretKey string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(jwtSecretKey))
	if err != nil {
		return "", fmt.Errorf("簽署 token 失敗: %w", err)
	}
	return signed, nil
}

// InspectClientToken 不驗簽地讀取客戶端 token，只用於判斷是否已過期
// 非 JWT 格式的 token 視為不透明字串，回傳 ErrInvalidToken
func InspectClientToken(tokenString string, now time.Time) (*ClientTokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	result := &ClientTokenClaims{}
	if v, ok := claims["rider_id"].(string); ok {
		result.RiderID = v
	}
	if v, ok := claims["order_id"].(string); ok {
		result.OrderID = v
	}
	if v, ok := claims["type"].(string); ok {
		result.Type = model.TokenType(v)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp != nil {
		result.ExpiresAt = exp.Time
		if !now.Before(exp.Time) {
			return result, ErrTokenExpired
		}
	}

	return result, nil
}
