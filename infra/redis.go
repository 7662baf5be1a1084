package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis 乘客 session 與司機指派頻道共用的連線
type Redis struct {
	Client *redis.Client
	logger zerolog.Logger
}

// ConnectRedis 依 redis 設定區段建立連線，ping 不通即回傳錯誤
func ConnectRedis(ctx context.Context, cfg Config, logger zerolog.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("連接 Redis %s 失敗: %w", cfg.Redis.Addr, err)
	}

	r := &Redis{
		Client: rdb,
		logger: logger.With().Str("module", "redis").Str("addr", cfg.Redis.Addr).Logger(),
	}
	r.logger.Info().Int("db", cfg.Redis.DB).Msg("Redis 已連接")
	return r, nil
}

func (r *Redis) Close() error {
	if err := r.Client.Close(); err != nil {
		return err
	}
	r.logger.Info().Msg("Redis 連線已關閉")
	return nil
}
