package exchange

import (
	"context"
	"sync"
	"testing"
	"time"

	"backtest/internal/bus"
	"backtest/internal/schema"
	"backtest/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu       sync.Mutex
	requests []Request
	respond  func(Request) Envelope
	inbound  chan Envelope
	closed   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan Envelope, 16)}
}

func (f *fakeTransport) Request(_ context.Context, req Request) (Envelope, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		return respond(req), nil
	}
	return Envelope{ID: req.ID, OK: true}, nil
}

func (f *fakeTransport) Inbound() (<-chan Envelope, func()) {
	return f.inbound, func() {}
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeTransport) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Op)
	}
	return out
}

func (f *fakeTransport) request(i int) Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	dials      int
}

func (d *fakeDialer) dial(ctx context.Context, _ string) (Transport, error) {
	d.mu.Lock()
	if d.dials < len(d.transports) {
		t := d.transports[d.dials]
		d.dials++
		d.mu.Unlock()
		return t, nil
	}
	d.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Now() int64 {
	return 1547200500000
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

func testLiveConfig() LiveConfig {
	return LiveConfig{URL: "wss://venue.test/ws", APIKey: "key", APISecret: "secret"}
}

func startLive(t *testing.T, l *Live) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	return cancel, done
}

func TestLiveConfig(t *testing.T) {
	_, err := NewLive(LiveConfig{}, bus.NewQueue(1), nil)
	assert.Error(t, err)

	_, err = NewLive(testLiveConfig(), nil, nil)
	assert.ErrorIs(t, err, exception.ErrNilInstance)

	l, err := NewLive(testLiveConfig(), bus.NewQueue(1), nil)
	require.NoError(t, err)
	assert.Equal(t, time.Second, l.cfg.ReconnectDelay)
}

func TestLiveSubscriptionKeyedByChannel(t *testing.T) {
	l, err := NewLive(testLiveConfig(), bus.NewQueue(1), nil)
	require.NoError(t, err)

	ctx := context.Background()
	sub := Subscription{Channel: ChannelCandles, Symbol: "ETHUSD", Timeframe: schema.Timeframe1m}
	require.NoError(t, l.Subscribe(ctx, sub))
	require.NoError(t, l.Subscribe(ctx, sub))
	require.NoError(t, l.Subscribe(ctx, Subscription{Channel: ChannelOrders, Symbol: "ETHUSD"}))

	subs := l.Subscriptions()
	require.Len(t, subs, 2)
	assert.Equal(t, "candles:ETHUSD:1m", subs[0].Key())
	assert.Equal(t, "orders:ETHUSD", subs[1].Key())
}

func TestLiveReconnectResubscribes(t *testing.T) {
	first, second := newFakeTransport(), newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{first, second}}
	clock := &fakeClock{}
	queue := bus.NewQueue(16)

	l, err := NewLive(testLiveConfig(), queue, dialer.dial)
	require.NoError(t, err)
	l.WithClock(clock)

	ctx := context.Background()
	require.NoError(t, l.Subscribe(ctx, Subscription{Channel: ChannelCandles, Symbol: "ETHUSD", Timeframe: schema.Timeframe1m}))
	require.NoError(t, l.Subscribe(ctx, Subscription{Channel: ChannelOrders, Symbol: "ETHUSD"}))

	cancel, done := startLive(t, l)
	defer cancel()

	require.Eventually(t, func() bool { return len(first.ops()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{opAuth, opSubscribe, opSubscribe}, first.ops())

	auth := first.request(0)
	assert.Equal(t, "key", auth.APIKey)
	assert.Equal(t, "1547200500000", auth.Nonce)
	assert.Equal(t, sign("secret", "key", "1547200500000"), auth.Signature)

	first.inbound <- Envelope{Channel: "candles:ETHUSD:1m", Type: pushCandle,
		Data: []byte(`{"symbol":"ETHUSD","timeframe":"1m","timestamp":1547200560000,"open":1,"close":2,"high":3,"low":0.5,"volume":10}`)}
	close(first.inbound)

	require.Eventually(t, func() bool { return dialer.count() == 2 && len(second.ops()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{opAuth, opSubscribe, opSubscribe}, second.ops())
	assert.Equal(t, []time.Duration{time.Second}, clock.slept())
	assert.Len(t, l.Subscriptions(), 2)

	cancel()
	require.NoError(t, <-done)

	var events []bus.Event
	queue.Close()
	require.NoError(t, queue.Run(context.Background(), func(_ context.Context, e bus.Event) error {
		events = append(events, e)
		return nil
	}))
	require.Len(t, events, 2)
	assert.Equal(t, bus.KindCandle, events[0].Kind)
	assert.Equal(t, schema.Timeframe1m, events[0].Candle.Timeframe)
	assert.Equal(t, 2.0, events[0].Candle.Close)
	assert.Equal(t, bus.KindDisconnected, events[1].Kind)
}

func TestLiveAuthenticationFailureReconnects(t *testing.T) {
	rejecting, accepting := newFakeTransport(), newFakeTransport()
	rejecting.respond = func(req Request) Envelope {
		return Envelope{ID: req.ID, OK: false, Error: "bad signature"}
	}
	dialer := &fakeDialer{transports: []*fakeTransport{rejecting, accepting}}
	clock := &fakeClock{}

	l, err := NewLive(testLiveConfig(), bus.NewQueue(4), dialer.dial)
	require.NoError(t, err)
	l.WithClock(clock)

	cancel, done := startLive(t, l)
	defer cancel()

	require.Eventually(t, l.Connected, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{opAuth}, rejecting.ops())
	assert.Equal(t, []time.Duration{time.Second}, clock.slept())

	cancel()
	require.NoError(t, <-done)
}

func TestLiveSubmit(t *testing.T) {
	transport := newFakeTransport()
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}
	l, err := NewLive(testLiveConfig(), bus.NewQueue(4), dialer.dial)
	require.NoError(t, err)
	l.WithClock(&fakeClock{})

	ctx := context.Background()
	_, err = l.LimitOrder(ctx, "ETHUSD", 1, 100, schema.SideBuy, schema.OrderFlagNone)
	assert.ErrorIs(t, err, exception.ErrNotAuthenticated)

	cancel, done := startLive(t, l)
	defer cancel()
	require.Eventually(t, l.Connected, time.Second, 5*time.Millisecond)

	o, err := l.LimitOrder(ctx, "ETHUSD", 2, 100, schema.SideSell, schema.OrderFlagReduceOnly)
	require.NoError(t, err)
	assert.Equal(t, -2.0, o.Quantity)
	assert.True(t, o.IsActive())

	got, ok := l.Order(o.ID)
	require.True(t, ok)
	assert.Same(t, o, got)

	submit := transport.request(1)
	assert.Equal(t, opSubmit, submit.Op)
	require.NotNil(t, submit.Order)
	assert.Equal(t, o.ID, submit.Order.ID)
	assert.Equal(t, "ReduceOnly", submit.Order.Flag)

	_, err = l.StopOrder(ctx, "ETHUSD", 1, 90, schema.Side("hold"), schema.OrderFlagNone)
	assert.ErrorIs(t, err, exception.ErrInvalidSide)

	msg, err := l.CancelAllOrders(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, msg)

	cancel()
	require.NoError(t, <-done)
}

func TestLiveSubmissionInFlight(t *testing.T) {
	transport := newFakeTransport()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	transport.respond = func(req Request) Envelope {
		if req.Op == opSubmit {
			entered <- struct{}{}
			<-release
		}
		return Envelope{ID: req.ID, OK: true}
	}
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}
	l, err := NewLive(testLiveConfig(), bus.NewQueue(4), dialer.dial)
	require.NoError(t, err)
	l.WithClock(&fakeClock{})

	cancel, done := startLive(t, l)
	defer cancel()
	require.Eventually(t, l.Connected, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	firstErr := make(chan error, 1)
	go func() {
		_, err := l.LimitOrder(ctx, "ETHUSD", 1, 100, schema.SideBuy, schema.OrderFlagNone)
		firstErr <- err
	}()
	<-entered

	_, err = l.LimitOrder(ctx, "ETHUSD", 1, 101, schema.SideBuy, schema.OrderFlagNone)
	assert.ErrorIs(t, err, exception.ErrSubmissionInFlight)

	close(release)
	require.NoError(t, <-firstErr)
	assert.Len(t, l.Orders(), 1)

	cancel()
	require.NoError(t, <-done)
}

func TestLiveSubmissionRejected(t *testing.T) {
	transport := newFakeTransport()
	transport.respond = func(req Request) Envelope {
		if req.Op == opSubmit {
			return Envelope{ID: req.ID, OK: false, Error: "insufficient margin"}
		}
		return Envelope{ID: req.ID, OK: true}
	}
	dialer := &fakeDialer{transports: []*fakeTransport{transport}}
	l, err := NewLive(testLiveConfig(), bus.NewQueue(4), dialer.dial)
	require.NoError(t, err)
	l.WithClock(&fakeClock{})

	cancel, done := startLive(t, l)
	defer cancel()
	require.Eventually(t, l.Connected, time.Second, 5*time.Millisecond)

	_, err = l.MarketOrder(context.Background(), "ETHUSD", 1, schema.SideBuy, schema.OrderFlagNone)
	assert.ErrorIs(t, err, exception.ErrSubmissionFailed)
	assert.Empty(t, l.Orders())

	cancel()
	require.NoError(t, <-done)
}

func TestLiveDispatchOrderAndPosition(t *testing.T) {
	queue := bus.NewQueue(8)
	l, err := NewLive(testLiveConfig(), queue, nil)
	require.NoError(t, err)

	l.dispatch(Envelope{ID: "7", OK: true})
	l.dispatch(Envelope{Type: pushOrder, Data: []byte(`{"id":"a","status":"EXECUTED @ 129.33","price":129.33,"timestamp":5}`)})
	l.dispatch(Envelope{Type: pushOrder, Data: []byte(`{"id":"b","status":"CANCELED","timestamp":6}`)})
	l.dispatch(Envelope{Type: pushOrder, Data: []byte(`{"id":"c","status":"ACTIVE","price":127,"timestamp":7}`)})
	l.dispatch(Envelope{Type: pushPosition, Data: []byte(`{"symbol":"ETHUSD","quantity":-10,"entryPrice":128.05,"timestamp":8}`)})
	l.dispatch(Envelope{Type: pushCandle, Data: []byte(`not json`)})
	assert.Equal(t, 4, queue.Len())

	queue.Close()
	var kinds []bus.Kind
	var last bus.Event
	require.NoError(t, queue.Run(context.Background(), func(_ context.Context, e bus.Event) error {
		kinds = append(kinds, e.Kind)
		last = e
		return nil
	}))
	assert.Equal(t, []bus.Kind{bus.KindOrderExecuted, bus.KindOrderCanceled, bus.KindOrderUpdated, bus.KindPosition}, kinds)
	assert.Equal(t, -10.0, last.PositionQuantity)
	assert.Equal(t, 128.05, last.PositionEntryPrice)
}
