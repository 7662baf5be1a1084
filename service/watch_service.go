package service

import (
	"context"
	"errors"
	"sync"

	"right-rider/background"
	"right-rider/model"
	"right-rider/service/interfaces"

	"github.com/rs/zerolog"
)

var ErrNoActiveWatch = errors.New("目前沒有監看中的訂單")

// WatchService 乘客端的「尋找司機中」畫面：由 session 建立監看並提供狀態查詢與取消
type WatchService struct {
	logger zerolog.Logger
	store  interfaces.SessionStore
	api    interfaces.OrderStatusAPI
	push   interfaces.PushChannel
	nav    interfaces.Navigator
	config background.OrderWatcherConfig

	mu      sync.Mutex
	watcher *background.OrderWatcher
}

func NewWatchService(logger zerolog.Logger, store interfaces.SessionStore, api interfaces.OrderStatusAPI, push interfaces.PushChannel, nav interfaces.Navigator, config background.OrderWatcherConfig) *WatchService {
	return &WatchService{
		logger: logger.With().Str("module", "watch_service").Logger(),
		store:  store,
		api:    api,
		push:   push,
		nav:    nav,
		config: config,
	}
}

// SeedSession 寫入叫車完成後的 session，空值略過
func (s *WatchService) SeedSession(ctx context.Context, orderID, pickup, destination, clientToken string) error {
	for key, value := range map[model.SessionKey]string{
		model.SessionKeyCurrentOrderID:     orderID,
		model.SessionKeyPickupAddress:      pickup,
		model.SessionKeyDestinationAddress: destination,
		model.SessionKeyClientToken:        clientToken,
	} {
		if value == "" {
			continue
		}
		if err := s.store.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// StartFromSession 讀取 session 中的訂單並開始監看；前一個監看會先停止
func (s *WatchService) StartFromSession(ctx context.Context) (model.WatchSnapshot, error) {
	orderID, token, err := background.LoadWatchTarget(ctx, s.store)
	if err != nil {
		return model.WatchSnapshot{}, err
	}

	cfg := s.config
	cfg.OrderID = orderID
	cfg.ClientToken = token
	watcher := background.NewOrderWatcher(s.logger, cfg, s.api, s.push, s.store, s.nav)

	s.mu.Lock()
	previous := s.watcher
	s.watcher = watcher
	s.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}

	if err := watcher.Start(ctx); err != nil {
		return watcher.Snapshot(), err
	}
	return watcher.Snapshot(), nil
}

// Status 目前監看狀態
func (s *WatchService) Status() (model.WatchSnapshot, error) {
	s.mu.Lock()
	watcher := s.watcher
	s.mu.Unlock()

	if watcher == nil {
		return model.WatchSnapshot{}, ErrNoActiveWatch
	}
	return watcher.Snapshot(), nil
}

// Cancel 使用者按下取消
func (s *WatchService) Cancel() (model.WatchSnapshot, error) {
	s.mu.Lock()
	watcher := s.watcher
	s.mu.Unlock()

	if watcher == nil {
		return model.WatchSnapshot{}, ErrNoActiveWatch
	}
	watcher.Cancel()
	return watcher.Snapshot(), nil
}

// Stop 畫面卸載
func (s *WatchService) Stop() {
	s.mu.Lock()
	watcher := s.watcher
	s.mu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
}

// Done 目前監看的結束通知
func (s *WatchService) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Done()
}
