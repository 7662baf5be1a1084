package service

import (
	"sync"
	"time"

	"right-rider/model"
	"right-rider/service/interfaces"

	"github.com/rs/zerolog"
)

// Navigation 一次畫面轉換
type Navigation struct {
	Route model.Route `json:"route"`
	At    time.Time   `json:"at"`
}

// RouteRecorder 記錄畫面轉換並通知等待者。
// Navigate 在監看迴圈上被呼叫，不可在其中同步呼叫 OrderWatcher.Stop。
type RouteRecorder struct {
	logger  zerolog.Logger
	mu      sync.RWMutex
	current model.Route
	history []Navigation
	changed chan Navigation
	hooks   []func(Navigation)
}

func NewRouteRecorder(logger zerolog.Logger, initial model.Route) *RouteRecorder {
	return &RouteRecorder{
		logger:  logger.With().Str("module", "navigator").Logger(),
		current: initial,
		changed: make(chan Navigation, 8),
	}
}

func (r *RouteRecorder) Navigate(route model.Route) {
	nav := Navigation{Route: route, At: time.Now()}

	r.mu.Lock()
	from := r.current
	r.current = route
	r.history = append(r.history, nav)
	r.mu.Unlock()

	r.logger.Info().Str("from", string(from)).Str("to", string(route)).Msg("畫面導航")

	for _, hook := range r.hooks {
		hook(nav)
	}

	select {
	case r.changed <- nav:
	default:
		r.logger.Warn().Str("to", string(route)).Msg("導航通知頻道已滿")
	}
}

// OnNavigate 註冊導航通知，需在開始監看前呼叫；hook 不可阻塞
func (r *RouteRecorder) OnNavigate(hook func(Navigation)) {
	r.hooks = append(r.hooks, hook)
}

// Current 目前畫面
func (r *RouteRecorder) Current() model.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// History 所有導航紀錄
func (r *RouteRecorder) History() []Navigation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Navigation, len(r.history))
	copy(out, r.history)
	return out
}

// Changed 每次導航送出一筆
func (r *RouteRecorder) Changed() <-chan Navigation {
	return r.changed
}

var _ interfaces.Navigator = (*RouteRecorder)(nil)
