package interfaces

import (
	"context"

	"right-rider/model"
)

// SessionStore 乘客 session 的鍵值儲存
type SessionStore interface {
	// Get 取得鍵值，第二個回傳值表示鍵是否存在
	Get(ctx context.Context, key model.SessionKey) (string, bool, error)
	Set(ctx context.Context, key model.SessionKey, value string) error
	Remove(ctx context.Context, keys ...model.SessionKey) error
}
