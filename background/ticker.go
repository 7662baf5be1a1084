package background

import "time"

// Ticker 週期觸發器，測試時以手動觸發的實作替換
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory 建立 Ticker
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

// NewTimeTicker 以 time.Ticker 實作的 Ticker
func NewTimeTicker(d time.Duration) Ticker {
	return &timeTicker{t: time.NewTicker(d)}
}

func (t *timeTicker) C() <-chan time.Time { return t.t.C }

func (t *timeTicker) Stop() { t.t.Stop() }
