package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"backtest/internal/bus"
	"backtest/internal/obs"
	"backtest/internal/order"
	"backtest/internal/schema"
	"backtest/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

// LiveConfig configures the websocket client.
type LiveConfig struct {
	URL            string        `json:"url"`
	APIKey         string        `json:"apiKey"`
	APISecret      string        `json:"apiSecret"`
	ReconnectDelay time.Duration `json:"reconnectDelay"`
	RequestTimeout time.Duration `json:"requestTimeout"`
}

func (c LiveConfig) withDefaults() LiveConfig {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

// Validate checks required connection settings.
func (c LiveConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("invalid live config: url is required")
	}
	if c.APIKey == "" || c.APISecret == "" {
		return fmt.Errorf("invalid live config: apiKey and apiSecret are required")
	}
	return nil
}

// Live trades through a venue websocket. Venue pushes are published to the
// queue and never mutate orders here; the engine loop applies them.
type Live struct {
	cfg     LiveConfig
	dial    Dialer
	clock   Clock
	queue   *bus.Queue
	metrics *obs.Metrics

	seq      atomic.Uint64
	inFlight atomic.Bool

	mu            sync.Mutex
	conn          Transport
	authenticated bool
	subs          map[string]Subscription
	subKeys       []string
	orders        map[string]*order.Order
}

var _ Exchange = (*Live)(nil)

// NewLive validates the config and creates a disconnected client.
func NewLive(cfg LiveConfig, queue *bus.Queue, dial Dialer) (*Live, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if queue == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "live exchange queue")
	}
	if dial == nil {
		dial = DialWebSocket
	}
	return &Live{
		cfg:    cfg,
		dial:   dial,
		clock:  realClock{},
		queue:  queue,
		subs:   make(map[string]Subscription),
		orders: make(map[string]*order.Order),
	}, nil
}

// WithClock swaps the clock implementation.
func (l *Live) WithClock(clock Clock) *Live {
	if clock != nil {
		l.clock = clock
	}
	return l
}

func (l *Live) WithMetrics(m *obs.Metrics) *Live {
	l.metrics = m
	return l
}

// Subscribe records sub and sends it right away when connected.
func (l *Live) Subscribe(ctx context.Context, sub Subscription) error {
	l.mu.Lock()
	key := sub.Key()
	if _, ok := l.subs[key]; !ok {
		l.subKeys = append(l.subKeys, key)
	}
	l.subs[key] = sub
	conn, ready := l.conn, l.authenticated
	l.mu.Unlock()

	if !ready {
		return nil
	}
	return l.sendSubscribe(ctx, conn, sub)
}

// Subscriptions returns the records in first-subscribed order.
func (l *Live) Subscriptions() []Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Subscription, 0, len(l.subKeys))
	for _, key := range l.subKeys {
		out = append(out, l.subs[key])
	}
	return out
}

// Order returns a submitted order by id.
func (l *Live) Order(id string) (*order.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	return o, ok
}

// Orders returns every submitted order.
func (l *Live) Orders() []*order.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*order.Order, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, o)
	}
	return out
}

// Connected reports whether an authenticated session is up.
func (l *Live) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.authenticated
}

// Run keeps a session alive until ctx is done or the process shuts down.
// A dropped session is retried after a fixed delay: dial, authenticate, then
// resubscribe every recorded channel.
func (l *Live) Run(ctx context.Context) error {
	for {
		err := l.session(ctx)
		if ctx.Err() != nil || errors.Is(err, errShutdown) {
			return nil
		}

		logs.Errorf("live session ended, reconnect in %s, err: %+v", l.cfg.ReconnectDelay, err)
		l.publish(bus.Event{Kind: bus.KindDisconnected, Time: l.clock.Now()})
		l.metrics.IncReconnect()

		if err := l.clock.Sleep(ctx, l.cfg.ReconnectDelay); err != nil {
			return nil
		}
	}
}

var errShutdown = errors.New("shutdown")

func (l *Live) session(ctx context.Context) error {
	conn, err := l.dial(ctx, l.cfg.URL)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()

	inbound, stop := conn.Inbound()
	defer stop()

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer l.dropConn(conn)

	if err := l.authenticate(ctx, conn); err != nil {
		return err
	}

	for _, sub := range l.Subscriptions() {
		if err := l.sendSubscribe(ctx, conn, sub); err != nil {
			return err
		}
	}
	logs.Infof("live session ready, subscriptions: %d", len(l.Subscriptions()))

	for {
		select {
		case <-sys.Shutdown():
			return errShutdown
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-inbound:
			if !ok {
				return exception.ErrWebSocketConnectionClose
			}
			l.dispatch(env)
		}
	}
}

func (l *Live) dropConn(conn Transport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == conn {
		l.conn = nil
		l.authenticated = false
	}
}

func (l *Live) authenticate(ctx context.Context, conn Transport) error {
	nonce := strconv.FormatInt(l.clock.Now(), 10)
	reply, err := l.request(ctx, conn, Request{
		Op:        opAuth,
		APIKey:    l.cfg.APIKey,
		Nonce:     nonce,
		Signature: sign(l.cfg.APISecret, l.cfg.APIKey, nonce),
	})
	if err != nil {
		return errors.Wrap(err, "authenticate")
	}
	if !reply.OK {
		return errors.Wrap(exception.ErrAuthenticationFailed, reply.Error)
	}

	l.mu.Lock()
	if l.conn == conn {
		l.authenticated = true
	}
	l.mu.Unlock()
	return nil
}

func (l *Live) sendSubscribe(ctx context.Context, conn Transport, sub Subscription) error {
	reply, err := l.request(ctx, conn, sub.request())
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", sub.Key())
	}
	if !reply.OK {
		return errors.Wrapf(exception.ErrWebSocketProtocol, "subscribe %s: %s", sub.Key(), reply.Error)
	}
	return nil
}

func (l *Live) request(ctx context.Context, conn Transport, req Request) (Envelope, error) {
	req.ID = strconv.FormatUint(l.seq.Add(1), 10)
	ctx, cancel := context.WithTimeout(ctx, l.cfg.RequestTimeout)
	defer cancel()
	return conn.Request(ctx, req)
}

func (l *Live) readyConn() (Transport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil || !l.authenticated {
		return nil, exception.ErrNotAuthenticated
	}
	return l.conn, nil
}

func (l *Live) dispatch(env Envelope) {
	if env.IsReply() {
		return
	}

	switch env.Type {
	case pushCandle:
		var c schema.Candle
		if err := sonic.ConfigFastest.Unmarshal(env.Data, &c); err != nil {
			logs.Errorf("decode candle push, channel: %s, err: %+v", env.Channel, err)
			return
		}
		l.publish(bus.Event{Kind: bus.KindCandle, Time: c.Timestamp, Candle: c})
	case pushOrder:
		var w WireOrder
		if err := sonic.ConfigFastest.Unmarshal(env.Data, &w); err != nil {
			logs.Errorf("decode order push, channel: %s, err: %+v", env.Channel, err)
			return
		}
		o := w.toOrder()
		kind := bus.KindOrderUpdated
		switch {
		case o.IsExecuted():
			kind = bus.KindOrderExecuted
		case o.IsCanceled():
			kind = bus.KindOrderCanceled
		}
		l.publish(bus.Event{Kind: kind, Time: w.Timestamp, Order: o})
	case pushPosition:
		var p WirePosition
		if err := sonic.ConfigFastest.Unmarshal(env.Data, &p); err != nil {
			logs.Errorf("decode position push, channel: %s, err: %+v", env.Channel, err)
			return
		}
		l.publish(bus.Event{
			Kind:               bus.KindPosition,
			Time:               p.Timestamp,
			PositionQuantity:   p.Quantity,
			PositionEntryPrice: p.EntryPrice,
		})
	}
}

func (l *Live) publish(e bus.Event) {
	if err := l.queue.TryPublish(e); err != nil {
		l.metrics.IncQueueDrop()
		logs.Errorf("publish %s event, err: %+v", e.Kind, err)
	}
}

func (l *Live) MarketOrder(ctx context.Context, symbol string, quantity float64, side schema.Side, flag schema.OrderFlag) (*order.Order, error) {
	return l.submit(ctx, l.newOrder(symbol, quantity, 0, side, schema.OrderTypeMarket, flag))
}

func (l *Live) LimitOrder(ctx context.Context, symbol string, quantity, price float64, side schema.Side, flag schema.OrderFlag) (*order.Order, error) {
	return l.submit(ctx, l.newOrder(symbol, quantity, price, side, schema.OrderTypeLimit, flag))
}

func (l *Live) StopOrder(ctx context.Context, symbol string, quantity, price float64, side schema.Side, flag schema.OrderFlag) (*order.Order, error) {
	return l.submit(ctx, l.newOrder(symbol, quantity, price, side, schema.OrderTypeStop, flag))
}

func (l *Live) TrailingStopOrder(ctx context.Context, symbol string, quantity, trailingDistance float64, side schema.Side, flag schema.OrderFlag) (*order.Order, error) {
	o := l.newOrder(symbol, quantity, 0, side, schema.OrderTypeTrailingStop, flag)
	o.TrailingDistance = trailingDistance
	return l.submit(ctx, o)
}

// CancelOrder requests a cancel. The order turns CANCELED when the venue
// confirms it on the orders channel.
func (l *Live) CancelOrder(ctx context.Context, id string) (string, error) {
	conn, err := l.readyConn()
	if err != nil {
		return "", err
	}
	reply, err := l.request(ctx, conn, Request{Op: opCancel, OrderID: id})
	if err != nil {
		return "", errors.Wrapf(err, "cancel order %s", id)
	}
	if !reply.OK {
		return "", errors.Wrapf(exception.ErrOrderNotFound, "cancel order %s: %s", id, reply.Error)
	}
	return fmt.Sprintf("cancel requested for order %s", id), nil
}

func (l *Live) CancelAllOrders(ctx context.Context) (string, error) {
	conn, err := l.readyConn()
	if err != nil {
		return "", err
	}
	reply, err := l.request(ctx, conn, Request{Op: opCancelAll})
	if err != nil {
		return "", errors.Wrap(err, "cancel all orders")
	}
	if !reply.OK {
		return "", errors.Wrap(exception.ErrWebSocketProtocol, reply.Error)
	}
	return "cancel requested for all orders", nil
}

func (l *Live) newOrder(symbol string, quantity, price float64, side schema.Side, typ schema.OrderType, flag schema.OrderFlag) *order.Order {
	return &order.Order{
		ID:        order.NewID(),
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Flag:      flag,
		Quantity:  order.SignedQuantity(quantity, side),
		Price:     price,
		Status:    schema.OrderStatusActive,
		CreatedAt: l.clock.Now(),
	}
}

// submit sends one order. Only one submission may be awaiting its
// acknowledgement at a time.
func (l *Live) submit(ctx context.Context, o *order.Order) (*order.Order, error) {
	if err := o.Side.Validate(); err != nil {
		return nil, err
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		return nil, errors.Wrapf(exception.ErrSubmissionInFlight, "%s %s order", o.Side, o.Type)
	}
	defer l.inFlight.Store(false)

	conn, err := l.readyConn()
	if err != nil {
		return nil, err
	}

	reply, err := l.request(ctx, conn, Request{Op: opSubmit, Order: toWire(o)})
	if err != nil {
		return nil, errors.Wrapf(err, "submit order %s", o.ID)
	}
	if !reply.OK {
		return nil, errors.Wrapf(exception.ErrSubmissionFailed, "order %s: %s", o.ID, reply.Error)
	}

	l.mu.Lock()
	l.orders[o.ID] = o
	l.mu.Unlock()
	return o, nil
}
