package background

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"right-rider/auth"
	"right-rider/infra"
	"right-rider/metrics"
	"right-rider/model"
	"right-rider/service/interfaces"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrMissingOrderID = errors.New("session 中沒有訂單ID")
	ErrWatcherStarted = errors.New("watcher 已啟動")
)

const defaultPollInterval = 3 * time.Second

// OrderWatcherConfig 訂單監看設定
type OrderWatcherConfig struct {
	OrderID      string
	ClientToken  string
	PollInterval time.Duration
	NewTicker    TickerFactory
	// CancelRemoteOrder 使用者取消時同時呼叫後端取消訂單
	CancelRemoteOrder bool
	// CancelTimeout 後端取消請求的逾時
	CancelTimeout time.Duration
}

type stopRequest struct {
	userCancel bool
	ack        chan struct{}
}

// OrderWatcher 監看一筆尋找司機中的訂單，直到司機指派後導航一次。
//
// 推播與輪詢兩個來源互不保證順序且可能重複，所有狀態只在 run 的 goroutine
// 上讀寫，resolved 的檢查與設定之間沒有任何等待點，因此先到者生效，其餘訊號被忽略。
// 輪詢請求在輔助 goroutine 上執行，結果以 task 送回迴圈後重新檢查 resolved。
type OrderWatcher struct {
	logger       zerolog.Logger
	watchID      string
	orderID      string
	token        string
	pollInterval time.Duration
	newTicker    TickerFactory
	cancelRemote bool
	cancelTTL    time.Duration

	api   interfaces.OrderStatusAPI
	push  interfaces.PushChannel
	store interfaces.SessionStore
	nav   interfaces.Navigator

	started atomic.Bool
	tasks   chan func()
	stopReq chan stopRequest
	done    chan struct{}

	// 以下欄位只由 run 的 goroutine 存取
	ctx          context.Context
	ioCtx        context.Context
	ioCancel     context.CancelFunc
	resolved     bool
	ticker       Ticker
	sub          interfaces.Subscription
	pollInFlight bool
	startedAt    time.Time

	snapshotMu sync.RWMutex
	snapshot   model.WatchSnapshot
}

// NewOrderWatcher 建立訂單監看，push 可為 nil（僅輪詢）
func NewOrderWatcher(logger zerolog.Logger, cfg OrderWatcherConfig, api interfaces.OrderStatusAPI, push interfaces.PushChannel, store interfaces.SessionStore, nav interfaces.Navigator) *OrderWatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewTimeTicker
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = 5 * time.Second
	}

	watchID := uuid.NewString()
	return &OrderWatcher{
		logger: logger.With().
			Str("module", "order_watcher").
			Str("watch_id", watchID).
			Str("order_id", cfg.OrderID).
			Logger(),
		watchID:      watchID,
		orderID:      cfg.OrderID,
		token:        cfg.ClientToken,
		pollInterval: cfg.PollInterval,
		newTicker:    cfg.NewTicker,
		cancelRemote: cfg.CancelRemoteOrder,
		cancelTTL:    cfg.CancelTimeout,
		api:          api,
		push:         push,
		store:        store,
		nav:          nav,
		tasks:        make(chan func()),
		stopReq:      make(chan stopRequest),
		done:         make(chan struct{}),
		snapshot: model.WatchSnapshot{
			WatchID: watchID,
			OrderID: cfg.OrderID,
			State:   model.WatchStateIdle,
		},
	}
}

// Start 開始監看：訂閱推播並每 pollInterval 輪詢一次。
// 沒有訂單ID時導回首頁並回傳 ErrMissingOrderID。ctx 結束時視同 Stop。
func (w *OrderWatcher) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrWatcherStarted
	}

	if w.orderID == "" {
		w.logger.Warn().Msg("缺少訂單ID，導回首頁")
		metrics.RecordWatchOutcome(metrics.OutcomeMissingOrderID)
		w.updateSnapshot(func(s *model.WatchSnapshot) { s.State = model.WatchStateStopped })
		close(w.done)
		w.nav.Navigate(model.RouteHome)
		return ErrMissingOrderID
	}

	w.ctx = ctx
	w.ioCtx, w.ioCancel = context.WithCancel(ctx)
	w.startedAt = time.Now()

	if err := w.store.Set(ctx, model.SessionKeySearchActive, "1"); err != nil {
		w.logger.Warn().Err(err).Msg("寫入監看旗標失敗")
	}

	w.ticker = w.newTicker(w.pollInterval)
	w.updateSnapshot(func(s *model.WatchSnapshot) {
		s.State = model.WatchStateWatching
		s.StartedAt = w.startedAt
	})

	if w.push != nil {
		go w.subscribe(w.ioCtx, w.clientToken())
	}

	w.logger.Info().
		Dur("poll_interval", w.pollInterval).
		Bool("has_token", w.token != "").
		Msg("開始監看訂單，等待司機接單")

	go w.run()
	return nil
}

// Stop 畫面卸載：停止輪詢、取消推播訂閱並移除監看旗標，可重複呼叫。
// 返回後不會再有任何回呼改變狀態或導航。
func (w *OrderWatcher) Stop() {
	w.shutdown(false)
}

// Cancel 使用者取消：同 Stop，另外清除所有訂單相關 session 鍵，
// 尚未判定時導回叫車表單。可重複呼叫。
func (w *OrderWatcher) Cancel() {
	w.shutdown(true)
}

// Done 監看迴圈結束時關閉
func (w *OrderWatcher) Done() <-chan struct{} {
	return w.done
}

// Snapshot 取得目前監看狀態
func (w *OrderWatcher) Snapshot() model.WatchSnapshot {
	w.snapshotMu.RLock()
	defer w.snapshotMu.RUnlock()
	return w.snapshot
}

// OrderID 監看中的訂單
func (w *OrderWatcher) OrderID() string {
	return w.orderID
}

// HandlePushEvent 推播通道的回呼，可由任意 goroutine 呼叫
func (w *OrderWatcher) HandlePushEvent(event model.DriverAssignedEvent) {
	w.submit(func() { w.handlePush(event) })
}

func (w *OrderWatcher) shutdown(userCancel bool) {
	if w.started.CompareAndSwap(false, true) {
		// 尚未啟動，之後的 Start 會回傳 ErrWatcherStarted
		w.updateSnapshot(func(s *model.WatchSnapshot) { s.State = model.WatchStateStopped })
		close(w.done)
		return
	}

	ack := make(chan struct{})
	select {
	case w.stopReq <- stopRequest{userCancel: userCancel, ack: ack}:
		<-ack
	case <-w.done:
	}
}

// submit 把 task 排入監看迴圈；迴圈已結束時丟棄並回傳 false
func (w *OrderWatcher) submit(task func()) bool {
	select {
	case w.tasks <- task:
		return true
	case <-w.done:
		return false
	}
}

func (w *OrderWatcher) run() {
	defer close(w.done)

	for {
		select {
		case task := <-w.tasks:
			task()

		case <-w.tickerC():
			w.handleTick()

		case req := <-w.stopReq:
			w.teardown(req.userCancel)
			close(req.ack)
			return

		case <-w.ctx.Done():
			w.logger.Info().Msg("監看上下文取消")
			w.teardown(false)
			return
		}
	}
}

func (w *OrderWatcher) tickerC() <-chan time.Time {
	if w.ticker == nil {
		return nil
	}
	return w.ticker.C()
}

// clientToken 過期的 JWT 不送出，訂閱改為匿名；非 JWT 的 token 原樣傳遞
func (w *OrderWatcher) clientToken() string {
	if w.token == "" {
		return ""
	}
	if _, err := auth.InspectClientToken(w.token, time.Now()); errors.Is(err, auth.ErrTokenExpired) {
		w.logger.Warn().Msg("客戶端 token 已過期，以匿名方式訂閱")
		return ""
	}
	return w.token
}

func (w *OrderWatcher) subscribe(ctx context.Context, token string) {
	transport := w.push.Transport()
	sub, err := w.push.JoinOrderWatch(ctx, w.orderID, token, w.HandlePushEvent)
	if err != nil {
		// 推播失敗不致命，輪詢會繼續
		w.logger.Warn().Err(err).Str("transport", transport).Msg("訂閱推播通道失敗，僅依賴輪詢")
		metrics.RecordPushEvent(transport, metrics.PushSubscribeFailed)
		return
	}
	metrics.RecordPushEvent(transport, metrics.PushSubscribeAccepted)

	if !w.submit(func() { w.attachSubscription(sub) }) {
		sub.Unsubscribe()
	}
}

func (w *OrderWatcher) attachSubscription(sub interfaces.Subscription) {
	if w.resolved {
		sub.Unsubscribe()
		return
	}
	w.sub = sub
	w.logger.Debug().Str("transport", w.push.Transport()).Msg("推播訂閱完成")
}

func (w *OrderWatcher) handlePush(event model.DriverAssignedEvent) {
	transport := "unknown"
	if w.push != nil {
		transport = w.push.Transport()
	}

	if event.OrderID != w.orderID {
		w.logger.Debug().
			Str("event_order_id", event.OrderID).
			Msg("推播事件訂單不符，忽略")
		metrics.RecordPushEvent(transport, metrics.PushIgnoredMismatch)
		return
	}

	if w.resolved {
		w.logger.Debug().Str("driver_id", event.DriverID).Msg("已判定司機，忽略重複推播")
		metrics.RecordPushEvent(transport, metrics.PushIgnoredResolved)
		return
	}

	metrics.RecordPushEvent(transport, metrics.PushAccepted)
	w.resolve(model.ResolveSourcePush, event.DriverID, event.DriverName, "")
}

func (w *OrderWatcher) handleTick() {
	if w.resolved {
		return
	}
	if w.pollInFlight {
		w.logger.Debug().Msg("上一次輪詢尚未返回，略過本次")
		metrics.RecordPoll(metrics.PollSkipped, 0)
		return
	}

	w.pollInFlight = true
	ctx := w.ioCtx
	go func() {
		started := time.Now()
		spanCtx, span := infra.StartPollSpan(ctx, w.orderID)
		resp, err := w.api.GetActiveOrder(spanCtx)
		status := ""
		if resp != nil && resp.Order != nil {
			status = string(resp.Order.Status)
		}
		infra.EndPollSpan(span, status, err)

		elapsed := time.Since(started)
		w.submit(func() { w.handlePollResult(resp, err, elapsed) })
	}()
}

func (w *OrderWatcher) handlePollResult(resp *model.ActiveOrderResponse, err error, elapsed time.Duration) {
	w.pollInFlight = false
	w.updateSnapshot(func(s *model.WatchSnapshot) { s.PollCount++ })

	// 等待期間推播可能已先判定
	if w.resolved {
		w.logger.Debug().Msg("已判定司機，丟棄本次輪詢結果")
		metrics.RecordPoll(metrics.PollDiscarded, elapsed)
		return
	}

	if err != nil {
		if errors.Is(err, interfaces.ErrMalformedPayload) {
			w.logger.Warn().Err(err).Msg("輪詢回傳格式錯誤，視為無可處理狀態")
			metrics.RecordPoll(metrics.PollMalformed, elapsed)
			return
		}
		w.logger.Warn().Err(err).Msg("輪詢訂單狀態失敗，下次重試")
		metrics.RecordPoll(metrics.PollError, elapsed)
		return
	}

	if resp == nil || !resp.HasActiveOrder || resp.Order == nil {
		w.logger.Debug().Msg("目前沒有進行中的訂單")
		metrics.RecordPoll(metrics.PollNoAction, elapsed)
		return
	}

	order := resp.Order
	if order.ID != "" && order.ID != w.orderID {
		w.logger.Warn().Str("active_order_id", order.ID).Msg("進行中的訂單與監看訂單不符，忽略")
		metrics.RecordPoll(metrics.PollNoAction, elapsed)
		return
	}

	if !order.Status.IsValid() {
		w.logger.Warn().Str("status", string(order.Status)).Msg("未知的訂單狀態，忽略")
		metrics.RecordPoll(metrics.PollMalformed, elapsed)
		return
	}

	if !order.Status.IsDriverAssigned() {
		if order.Status.IsTerminal() {
			w.logger.Info().Str("status", string(order.Status)).Msg("訂單已結束但未指派司機")
		}
		metrics.RecordPoll(metrics.PollNoAction, elapsed)
		return
	}

	metrics.RecordPoll(metrics.PollResolved, elapsed)
	w.resolve(model.ResolveSourcePoll, order.AssignedDriverID, order.DriverName, resp.ClientToken)
}

// resolve 先寫入 session 再導航，只會執行一次
func (w *OrderWatcher) resolve(source model.ResolveSource, driverID, driverName, clientToken string) {
	_, span := infra.StartResolveSpan(w.ctx, w.orderID, driverID, string(source))
	defer span.End()

	w.persist(model.SessionKeyDriverID, driverID)
	w.persist(model.SessionKeyDriverName, driverName)
	w.persist(model.SessionKeyClientToken, clientToken)

	w.resolved = true

	if w.ticker != nil {
		w.ticker.Stop()
		w.ticker = nil
	}
	if w.sub != nil {
		w.sub.Unsubscribe()
		w.sub = nil
	}
	w.ioCancel()

	now := time.Now()
	elapsed := now.Sub(w.startedAt)
	w.updateSnapshot(func(s *model.WatchSnapshot) {
		s.State = model.WatchStateResolved
		s.Source = source
		s.DriverID = driverID
		s.DriverName = driverName
		s.ResolvedAt = &now
	})
	metrics.RecordResolution(string(source), elapsed)
	metrics.RecordWatchOutcome(metrics.OutcomeResolved)

	w.logger.Info().
		Str("source", string(source)).
		Str("driver_id", driverID).
		Str("driver_name", driverName).
		Dur("elapsed", elapsed).
		Msg("✅ 司機已接單，前往行程畫面")

	w.nav.Navigate(model.RouteInProgress)
}

func (w *OrderWatcher) persist(key model.SessionKey, value string) {
	if value == "" {
		return
	}
	if err := w.store.Set(w.ctx, key, value); err != nil {
		w.logger.Error().Err(err).Str("key", key.String()).Msg("寫入 session 失敗")
	}
}

func (w *OrderWatcher) teardown(userCancel bool) {
	if w.ticker != nil {
		w.ticker.Stop()
		w.ticker = nil
	}
	if w.sub != nil {
		w.sub.Unsubscribe()
		w.sub = nil
	}
	w.ioCancel()

	// 上層 ctx 可能已結束，清除 session 不能沿用
	ctx := context.WithoutCancel(w.ctx)

	keys := []model.SessionKey{model.SessionKeySearchActive}
	if userCancel {
		keys = model.OrderSessionKeys()
	}
	if err := w.store.Remove(ctx, keys...); err != nil {
		w.logger.Error().Err(err).Msg("清除 session 失敗")
	}

	if !userCancel {
		if !w.resolved {
			metrics.RecordWatchOutcome(metrics.OutcomeStopped)
			w.updateSnapshot(func(s *model.WatchSnapshot) { s.State = model.WatchStateStopped })
		}
		w.logger.Info().Bool("resolved", w.resolved).Msg("停止監看訂單")
		return
	}

	if w.resolved {
		w.logger.Info().Msg("使用者取消，訂單已判定，僅清除 session")
		return
	}

	if w.cancelRemote {
		cancelCtx, cancel := context.WithTimeout(ctx, w.cancelTTL)
		if err := w.api.CancelOrder(cancelCtx, w.orderID); err != nil {
			w.logger.Warn().Err(err).Msg("後端取消訂單失敗")
		}
		cancel()
	}

	metrics.RecordWatchOutcome(metrics.OutcomeCancelled)
	w.updateSnapshot(func(s *model.WatchSnapshot) { s.State = model.WatchStateCancelled })
	w.logger.Info().Msg("使用者取消叫車，返回叫車表單")
	w.nav.Navigate(model.RouteOrderForm)
}

func (w *OrderWatcher) updateSnapshot(fn func(s *model.WatchSnapshot)) {
	w.snapshotMu.Lock()
	defer w.snapshotMu.Unlock()
	fn(&w.snapshot)
}

// LoadWatchTarget 從 session 讀取要監看的訂單ID與客戶端 token
func LoadWatchTarget(ctx context.Context, store interfaces.SessionStore) (orderID string, token string, err error) {
	orderID, _, err = store.Get(ctx, model.SessionKeyCurrentOrderID)
	if err != nil {
		return "", "", err
	}
	token, _, err = store.Get(ctx, model.SessionKeyClientToken)
	if err != nil {
		return "", "", err
	}
	return orderID, token, nil
}
