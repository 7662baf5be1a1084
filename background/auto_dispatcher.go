package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"right-rider/model"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DispatchOrderBook 自動派單需要的訂單操作
type DispatchOrderBook interface {
	SearchingOrders(ctx context.Context, minWait time.Duration) []*model.Order
	AssignDriver(ctx context.Context, orderID, driverID, driverName string) (*model.Order, error)
}

// AutoDispatcher 模擬後端的排程派單：把等待超過 minWait 的訂單依序指派給模擬司機
type AutoDispatcher struct {
	logger      zerolog.Logger
	orderBook   DispatchOrderBook
	spec        string
	minWait     time.Duration
	driverNames []string
	cron        *cron.Cron

	mu   sync.Mutex
	next int
}

func NewAutoDispatcher(logger zerolog.Logger, orderBook DispatchOrderBook, spec string, minWait time.Duration, driverNames []string) *AutoDispatcher {
	return &AutoDispatcher{
		logger:      logger.With().Str("module", "auto_dispatcher").Logger(),
		orderBook:   orderBook,
		spec:        spec,
		minWait:     minWait,
		driverNames: driverNames,
		cron:        cron.New(),
	}
}

// Start 註冊排程並啟動
func (d *AutoDispatcher) Start() error {
	if len(d.driverNames) == 0 {
		return fmt.Errorf("自動派單缺少司機名單")
	}
	if _, err := d.cron.AddFunc(d.spec, func() {
		d.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("自動派單排程格式錯誤 %q: %w", d.spec, err)
	}

	d.cron.Start()
	d.logger.Info().Str("spec", d.spec).Dur("min_wait", d.minWait).Msg("自動派單已啟動")
	return nil
}

// Stop 停止排程並等待執行中的工作結束
func (d *AutoDispatcher) Stop() {
	<-d.cron.Stop().Done()
	d.logger.Info().Msg("自動派單已停止")
}

// RunOnce 執行一次派單，回傳成功指派的數量
func (d *AutoDispatcher) RunOnce(ctx context.Context) int {
	assigned := 0
	for _, order := range d.orderBook.SearchingOrders(ctx, d.minWait) {
		driverID, driverName := d.nextDriver()
		if _, err := d.orderBook.AssignDriver(ctx, order.ID, driverID, driverName); err != nil {
			// 訂單可能已被取消或手動指派
			d.logger.Warn().Err(err).Str("order_id", order.ID).Msg("自動派單失敗")
			continue
		}
		assigned++
		d.logger.Info().
			Str("order_id", order.ID).
			Str("driver_id", driverID).
			Str("driver_name", driverName).
			Msg("自動派單完成")
	}
	return assigned
}

// nextDriver 依名單輪流，司機ID為 d1、d2...
func (d *AutoDispatcher) nextDriver() (string, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.next % len(d.driverNames)
	d.next++
	return fmt.Sprintf("d%d", i+1), d.driverNames[i]
}
