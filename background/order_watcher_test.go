package background

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"right-rider/auth"
	"right-rider/model"
	"right-rider/service/interfaces"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrderID = "ord-1"

// manualTicker 由測試手動觸發
type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func newManualTicker() *manualTicker {
	return &manualTicker{c: make(chan time.Time), stopped: make(chan struct{})}
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() { t.once.Do(func() { close(t.stopped) }) }

// Tick 送出一次觸發，迴圈收下時回傳 true
func (t *manualTicker) Tick() bool {
	select {
	case t.c <- time.Now():
		return true
	case <-t.stopped:
		return false
	case <-time.After(time.Second):
		return false
	}
}

func (t *manualTicker) IsStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

type pollResult struct {
	resp *model.ActiveOrderResponse
	err  error
}

type fakeStatusAPI struct {
	mu        sync.Mutex
	results   []pollResult
	fallback  pollResult
	gate      chan struct{}
	calls     atomic.Int32
	cancelled []string
}

func (a *fakeStatusAPI) GetActiveOrder(ctx context.Context) (*model.ActiveOrderResponse, error) {
	a.calls.Add(1)
	if a.gate != nil {
		<-a.gate
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.results) == 0 {
		return a.fallback.resp, a.fallback.err
	}
	r := a.results[0]
	a.results = a.results[1:]
	return r.resp, r.err
}

func (a *fakeStatusAPI) CancelOrder(ctx context.Context, orderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = append(a.cancelled, orderID)
	return nil
}

func (a *fakeStatusAPI) Cancelled() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.cancelled...)
}

type fakeSubscription struct {
	unsubscribed atomic.Int32
}

func (s *fakeSubscription) Unsubscribe() { s.unsubscribed.Add(1) }

type fakePushChannel struct {
	mu      sync.Mutex
	handler interfaces.DriverAssignedHandler
	orderID string
	token   string
	joined  chan struct{}
	sub     *fakeSubscription
	err     error
}

func newFakePushChannel() *fakePushChannel {
	return &fakePushChannel{joined: make(chan struct{}), sub: &fakeSubscription{}}
}

func (p *fakePushChannel) JoinOrderWatch(ctx context.Context, orderID string, token string, handler interfaces.DriverAssignedHandler) (interfaces.Subscription, error) {
	p.mu.Lock()
	p.handler = handler
	p.orderID = orderID
	p.token = token
	p.mu.Unlock()
	close(p.joined)
	if p.err != nil {
		return nil, p.err
	}
	return p.sub, nil
}

func (p *fakePushChannel) Transport() string { return "fake" }

func (p *fakePushChannel) Deliver(t *testing.T, event model.DriverAssignedEvent) {
	t.Helper()
	select {
	case <-p.joined:
	case <-time.After(time.Second):
		t.Fatal("推播通道未被訂閱")
	}
	p.mu.Lock()
	handler := p.handler
	p.mu.Unlock()
	handler(event)
}

func (p *fakePushChannel) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

type fakeStore struct {
	mu     sync.Mutex
	values map[model.SessionKey]string
}

func newFakeStore(seed map[model.SessionKey]string) *fakeStore {
	s := &fakeStore{values: make(map[model.SessionKey]string)}
	for k, v := range seed {
		s.values[k] = v
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, key model.SessionKey) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fakeStore) Set(ctx context.Context, key model.SessionKey, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *fakeStore) Remove(ctx context.Context, keys ...model.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

func (s *fakeStore) Value(key model.SessionKey) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

func (s *fakeStore) Has(key model.SessionKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

type fakeNavigator struct {
	mu     sync.Mutex
	routes []model.Route
}

func (n *fakeNavigator) Navigate(route model.Route) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
}

func (n *fakeNavigator) Routes() []model.Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Route(nil), n.routes...)
}

type watcherFixture struct {
	watcher *OrderWatcher
	ticker  *manualTicker
	api     *fakeStatusAPI
	push    *fakePushChannel
	store   *fakeStore
	nav     *fakeNavigator
}

func newWatcherFixture(t *testing.T, cfg OrderWatcherConfig) *watcherFixture {
	t.Helper()
	f := &watcherFixture{
		ticker: newManualTicker(),
		api:    &fakeStatusAPI{fallback: pollResult{resp: searchingResponse()}},
		push:   newFakePushChannel(),
		store: newFakeStore(map[model.SessionKey]string{
			model.SessionKeyCurrentOrderID:     cfg.OrderID,
			model.SessionKeyPickupAddress:      "Papeete Marina",
			model.SessionKeyDestinationAddress: "Faa'a Airport",
		}),
		nav: &fakeNavigator{},
	}
	cfg.NewTicker = func(time.Duration) Ticker { return f.ticker }
	f.watcher = NewOrderWatcher(zerolog.Nop(), cfg, f.api, f.push, f.store, f.nav)
	t.Cleanup(f.watcher.Stop)
	return f
}

func (f *watcherFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.watcher.Start(context.Background()))
}

func (f *watcherFixture) tickAndWait(t *testing.T, polls int) {
	t.Helper()
	require.True(t, f.ticker.Tick(), "迴圈未收到輪詢觸發")
	require.Eventually(t, func() bool {
		return f.watcher.Snapshot().PollCount >= polls
	}, time.Second, 5*time.Millisecond)
}

func searchingResponse() *model.ActiveOrderResponse {
	return &model.ActiveOrderResponse{
		HasActiveOrder: true,
		Order:          &model.ActiveOrder{ID: testOrderID, Status: model.OrderStatusSearching},
	}
}

func acceptedResponse(driverID, driverName, token string) *model.ActiveOrderResponse {
	return &model.ActiveOrderResponse{
		HasActiveOrder: true,
		Order: &model.ActiveOrder{
			ID:               testOrderID,
			Status:           model.OrderStatusAccepted,
			DriverName:       driverName,
			AssignedDriverID: driverID,
		},
		ClientToken: token,
	}
}

func TestOrderWatcher_PollResolves(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	f.api.fallback = pollResult{resp: acceptedResponse("d1", "Moana", "tok-2")}
	f.start(t)

	f.tickAndWait(t, 1)

	require.Eventually(t, func() bool { return len(f.nav.Routes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []model.Route{model.RouteInProgress}, f.nav.Routes())
	assert.Equal(t, "d1", f.store.Value(model.SessionKeyDriverID))
	assert.Equal(t, "Moana", f.store.Value(model.SessionKeyDriverName))
	assert.Equal(t, "tok-2", f.store.Value(model.SessionKeyClientToken))
	assert.True(t, f.ticker.IsStopped())
	assert.Eventually(t, func() bool { return f.push.sub.unsubscribed.Load() >= 1 }, time.Second, 5*time.Millisecond)

	snapshot := f.watcher.Snapshot()
	assert.Equal(t, model.WatchStateResolved, snapshot.State)
	assert.Equal(t, model.ResolveSourcePoll, snapshot.Source)
	assert.NotNil(t, snapshot.ResolvedAt)
}

func TestOrderWatcher_PushWinsOverInFlightPoll(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	f.api.gate = make(chan struct{})
	f.api.fallback = pollResult{resp: acceptedResponse("d9", "Hinano", "tok-late")}
	f.start(t)

	require.True(t, f.ticker.Tick())
	require.Eventually(t, func() bool { return f.api.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	f.push.Deliver(t, model.DriverAssignedEvent{OrderID: testOrderID, DriverID: "d2", DriverName: "Teiva"})
	require.Eventually(t, func() bool { return len(f.nav.Routes()) == 1 }, time.Second, 5*time.Millisecond)

	close(f.api.gate)
	require.Eventually(t, func() bool { return f.watcher.Snapshot().PollCount == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []model.Route{model.RouteInProgress}, f.nav.Routes())
	assert.Equal(t, "d2", f.store.Value(model.SessionKeyDriverID))
	assert.Equal(t, "Teiva", f.store.Value(model.SessionKeyDriverName))
	assert.False(t, f.store.Has(model.SessionKeyClientToken))
	assert.Equal(t, model.ResolveSourcePush, f.watcher.Snapshot().Source)
	assert.False(t, f.ticker.Tick(), "判定後不應再輪詢")
}

func TestOrderWatcher_SearchingPollsDoNothing(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	f.start(t)

	for i := 1; i <= 10; i++ {
		f.tickAndWait(t, i)
	}

	assert.Empty(t, f.nav.Routes())
	assert.False(t, f.store.Has(model.SessionKeyDriverID))
	assert.False(t, f.store.Has(model.SessionKeyDriverName))
	assert.Equal(t, model.WatchStateWatching, f.watcher.Snapshot().State)
	assert.Equal(t, int32(10), f.api.calls.Load())
	assert.False(t, f.ticker.IsStopped())
}

func TestOrderWatcher_PollFailureRetriesNextTick(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	f.api.results = []pollResult{
		{err: errors.New("connection refused")},
		{err: interfaces.ErrMalformedPayload},
		{resp: &model.ActiveOrderResponse{HasActiveOrder: true, Order: &model.ActiveOrder{ID: testOrderID, Status: "teleporting"}}},
		{resp: &model.ActiveOrderResponse{HasActiveOrder: false}},
	}
	f.api.fallback = pollResult{resp: acceptedResponse("d1", "Moana", "")}
	f.start(t)

	for i := 1; i <= 4; i++ {
		f.tickAndWait(t, i)
		assert.Empty(t, f.nav.Routes())
	}

	f.tickAndWait(t, 5)
	require.Eventually(t, func() bool { return len(f.nav.Routes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "d1", f.store.Value(model.SessionKeyDriverID))
}

func TestOrderWatcher_PollForOtherOrderIgnored(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	other := acceptedResponse("d3", "Tavita", "")
	other.Order.ID = "ord-other"
	f.api.fallback = pollResult{resp: other}
	f.start(t)

	f.tickAndWait(t, 1)

	assert.Empty(t, f.nav.Routes())
	assert.False(t, f.store.Has(model.SessionKeyDriverID))
}

func TestOrderWatcher_DriverArrivedResolves(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	resp := acceptedResponse("d4", "Hinano", "")
	resp.Order.Status = model.OrderStatusDriverArrived
	f.api.fallback = pollResult{resp: resp}
	f.start(t)

	f.tickAndWait(t, 1)

	require.Eventually(t, func() bool { return len(f.nav.Routes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "d4", f.store.Value(model.SessionKeyDriverID))
}

func TestOrderWatcher_MismatchedPushIgnored(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	f.start(t)

	f.push.Deliver(t, model.DriverAssignedEvent{OrderID: "ord-other", DriverID: "d5", DriverName: "Teiva"})
	f.tickAndWait(t, 1)

	assert.Empty(t, f.nav.Routes())
	assert.False(t, f.store.Has(model.SessionKeyDriverID))
	assert.Equal(t, model.WatchStateWatching, f.watcher.Snapshot().State)
}

func TestOrderWatcher_DuplicatePushNavigatesOnce(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	f.start(t)

	f.push.Deliver(t, model.DriverAssignedEvent{OrderID: testOrderID, DriverID: "d2", DriverName: "Teiva"})
	f.push.Deliver(t, model.DriverAssignedEvent{OrderID: testOrderID, DriverID: "d7", DriverName: "Other"})
	f.watcher.Stop()

	assert.Equal(t, []model.Route{model.RouteInProgress}, f.nav.Routes())
	assert.Equal(t, "d2", f.store.Value(model.SessionKeyDriverID))
	assert.Equal(t, "Teiva", f.store.Value(model.SessionKeyDriverName))
}

func TestOrderWatcher_CancelClearsSession(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID, ClientToken: "opaque-token", CancelRemoteOrder: true})
	require.NoError(t, f.store.Set(context.Background(), model.SessionKeyClientToken, "opaque-token"))
	f.start(t)
	f.tickAndWait(t, 1)

	f.watcher.Cancel()

	for _, key := range model.OrderSessionKeys() {
		assert.False(t, f.store.Has(key), key.String())
	}
	assert.True(t, f.ticker.IsStopped())
	assert.Equal(t, []model.Route{model.RouteOrderForm}, f.nav.Routes())
	assert.Equal(t, []string{testOrderID}, f.api.Cancelled())
	assert.Equal(t, model.WatchStateCancelled, f.watcher.Snapshot().State)
	assert.False(t, f.ticker.Tick())

	// 可重複呼叫
	f.watcher.Cancel()
	f.watcher.Stop()
	assert.Len(t, f.nav.Routes(), 1)
	assert.Len(t, f.api.Cancelled(), 1)
}

func TestOrderWatcher_StopThenLateCallbacksAreNoOps(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	f.start(t)
	<-f.push.joined
	require.True(t, f.store.Has(model.SessionKeySearchActive))

	f.watcher.Stop()

	f.push.Deliver(t, model.DriverAssignedEvent{OrderID: testOrderID, DriverID: "d2", DriverName: "Teiva"})
	assert.False(t, f.ticker.Tick())

	assert.Empty(t, f.nav.Routes())
	assert.False(t, f.store.Has(model.SessionKeyDriverID))
	assert.False(t, f.store.Has(model.SessionKeySearchActive))
	assert.Equal(t, testOrderID, f.store.Value(model.SessionKeyCurrentOrderID))
	assert.Equal(t, model.WatchStateStopped, f.watcher.Snapshot().State)
	select {
	case <-f.watcher.Done():
	default:
		t.Fatal("Stop 返回後迴圈應已結束")
	}
}

func TestOrderWatcher_StopAfterResolveKeepsHandoffKeys(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	f.start(t)

	f.push.Deliver(t, model.DriverAssignedEvent{OrderID: testOrderID, DriverID: "d2", DriverName: "Teiva"})
	f.watcher.Stop()

	assert.Equal(t, "d2", f.store.Value(model.SessionKeyDriverID))
	assert.Equal(t, testOrderID, f.store.Value(model.SessionKeyCurrentOrderID))
	assert.False(t, f.store.Has(model.SessionKeySearchActive))
	assert.Equal(t, model.WatchStateResolved, f.watcher.Snapshot().State)
}

func TestOrderWatcher_CancelAfterResolveClearsSession(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID, CancelRemoteOrder: true})
	f.start(t)

	f.push.Deliver(t, model.DriverAssignedEvent{OrderID: testOrderID, DriverID: "d2", DriverName: "Teiva"})
	f.watcher.Cancel()

	for _, key := range model.OrderSessionKeys() {
		assert.False(t, f.store.Has(key), key.String())
	}
	assert.Equal(t, []model.Route{model.RouteInProgress}, f.nav.Routes())
	assert.Empty(t, f.api.Cancelled())
	assert.Equal(t, model.WatchStateResolved, f.watcher.Snapshot().State)
}

// 畫面卸載後 session 保留訂單，重新進入畫面時可接續監看
func TestOrderWatcher_StopUnresolvedAllowsResume(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	f.start(t)
	f.tickAndWait(t, 1)
	f.watcher.Stop()
	require.Empty(t, f.nav.Routes())

	orderID, token, err := LoadWatchTarget(context.Background(), f.store)
	require.NoError(t, err)
	assert.Equal(t, testOrderID, orderID)
	assert.Equal(t, "Papeete Marina", f.store.Value(model.SessionKeyPickupAddress))

	ticker := newManualTicker()
	push := newFakePushChannel()
	nav := &fakeNavigator{}
	resumed := NewOrderWatcher(zerolog.Nop(), OrderWatcherConfig{
		OrderID:     orderID,
		ClientToken: token,
		NewTicker:   func(time.Duration) Ticker { return ticker },
	}, f.api, push, f.store, nav)
	t.Cleanup(resumed.Stop)
	require.NoError(t, resumed.Start(context.Background()))
	assert.True(t, f.store.Has(model.SessionKeySearchActive))

	push.Deliver(t, model.DriverAssignedEvent{OrderID: testOrderID, DriverID: "d1", DriverName: "Moana"})
	resumed.Stop()

	assert.Equal(t, []model.Route{model.RouteInProgress}, nav.Routes())
	assert.Equal(t, "Moana", f.store.Value(model.SessionKeyDriverName))
}

func TestOrderWatcher_ExactlyOnceUnderConcurrentSignals(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	f.api.fallback = pollResult{resp: acceptedResponse("d1", "Moana", "tok-2")}
	f.start(t)
	<-f.push.joined

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.push.Deliver(t, model.DriverAssignedEvent{OrderID: testOrderID, DriverID: "d2", DriverName: "Teiva"})
		}()
		go func() {
			defer wg.Done()
			f.ticker.Tick()
		}()
	}
	wg.Wait()
	f.watcher.Stop()

	assert.Equal(t, []model.Route{model.RouteInProgress}, f.nav.Routes())
	driverID := f.store.Value(model.SessionKeyDriverID)
	assert.Contains(t, []string{"d1", "d2"}, driverID)
}

func TestOrderWatcher_MissingOrderIDNavigatesHome(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{})

	err := f.watcher.Start(context.Background())

	assert.ErrorIs(t, err, ErrMissingOrderID)
	assert.Equal(t, []model.Route{model.RouteHome}, f.nav.Routes())
	assert.Equal(t, int32(0), f.api.calls.Load())
	select {
	case <-f.push.joined:
		t.Fatal("缺少訂單ID時不應訂閱推播")
	default:
	}
}

func TestOrderWatcher_StartTwice(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	f.start(t)
	assert.ErrorIs(t, f.watcher.Start(context.Background()), ErrWatcherStarted)
}

func TestOrderWatcher_StopBeforeStart(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	f.watcher.Stop()

	assert.ErrorIs(t, f.watcher.Start(context.Background()), ErrWatcherStarted)
	assert.Equal(t, model.WatchStateStopped, f.watcher.Snapshot().State)
	assert.Empty(t, f.nav.Routes())
}

func TestOrderWatcher_ContextCancelTearsDown(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.watcher.Start(ctx))

	cancel()

	select {
	case <-f.watcher.Done():
	case <-time.After(time.Second):
		t.Fatal("ctx 取消後迴圈未結束")
	}
	assert.True(t, f.ticker.IsStopped())
	assert.False(t, f.store.Has(model.SessionKeySearchActive))
	assert.Empty(t, f.nav.Routes())
}

func TestOrderWatcher_PushSubscribeFailureFallsBackToPolling(t *testing.T) {
	f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID})
	f.push.err = errors.New("dial tcp: connection refused")
	f.api.fallback = pollResult{resp: acceptedResponse("d1", "Moana", "")}
	f.start(t)
	<-f.push.joined

	f.tickAndWait(t, 1)

	require.Eventually(t, func() bool { return len(f.nav.Routes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), f.push.sub.unsubscribed.Load())
}

func TestOrderWatcher_ClientToken(t *testing.T) {
	expired, err := auth.IssueClientToken("rider-1", testOrderID, "secret", -time.Minute)
	require.NoError(t, err)
	valid, err := auth.IssueClientToken("rider-1", testOrderID, "secret", time.Hour)
	require.NoError(t, err)

	testCases := []struct {
		name  string
		token string
		want  string
	}{
		{"過期的 JWT 改為匿名", expired, ""},
		{"有效的 JWT 原樣送出", valid, valid},
		{"不透明 token 原樣送出", "opaque-token", "opaque-token"},
		{"沒有 token", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newWatcherFixture(t, OrderWatcherConfig{OrderID: testOrderID, ClientToken: tc.token})
			f.start(t)
			<-f.push.joined
			assert.Equal(t, tc.want, f.push.Token())
			assert.Equal(t, testOrderID, f.push.orderID)
		})
	}
}

func TestLoadWatchTarget(t *testing.T) {
	store := newFakeStore(map[model.SessionKey]string{
		model.SessionKeyCurrentOrderID: testOrderID,
		model.SessionKeyClientToken:    "tok-1",
	})

	orderID, token, err := LoadWatchTarget(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, testOrderID, orderID)
	assert.Equal(t, "tok-1", token)

	orderID, token, err = LoadWatchTarget(context.Background(), newFakeStore(nil))
	require.NoError(t, err)
	assert.Empty(t, orderID)
	assert.Empty(t, token)
}
