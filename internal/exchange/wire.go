package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"backtest/internal/order"
	"backtest/internal/schema"
)

const (
	opAuth      = "auth"
	opSubscribe = "subscribe"
	opSubmit    = "submit"
	opCancel    = "cancel"
	opCancelAll = "cancel_all"

	pushCandle   = "candle"
	pushOrder    = "order"
	pushPosition = "position"
)

// Request is an outbound message. ID pairs it with its reply.
type Request struct {
	ID        string     `json:"id"`
	Op        string     `json:"op"`
	APIKey    string     `json:"apiKey,omitempty"`
	Nonce     string     `json:"nonce,omitempty"`
	Signature string     `json:"signature,omitempty"`
	Channel   string     `json:"channel,omitempty"`
	Symbol    string     `json:"symbol,omitempty"`
	Timeframe string     `json:"timeframe,omitempty"`
	Order     *WireOrder `json:"order,omitempty"`
	OrderID   string     `json:"orderId,omitempty"`
}

// Envelope is an inbound message: a reply when ID is set, a channel push otherwise.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Type    string          `json:"type,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e Envelope) IsReply() bool {
	return e.ID != ""
}

type WireOrder struct {
	ID               string  `json:"id"`
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	Type             string  `json:"type"`
	Flag             string  `json:"flag,omitempty"`
	Quantity         float64 `json:"quantity"`
	Price            float64 `json:"price,omitempty"`
	TrailingDistance float64 `json:"trailingDistance,omitempty"`
	Status           string  `json:"status,omitempty"`
	Timestamp        int64   `json:"timestamp,omitempty"`
}

func toWire(o *order.Order) *WireOrder {
	return &WireOrder{
		ID:               o.ID,
		Symbol:           o.Symbol,
		Side:             string(o.Side),
		Type:             string(o.Type),
		Flag:             string(o.Flag),
		Quantity:         o.Quantity,
		Price:            o.Price,
		TrailingDistance: o.TrailingDistance,
		Status:           string(o.Status),
		Timestamp:        o.CreatedAt,
	}
}

func (w WireOrder) toOrder() order.Order {
	return order.Order{
		ID:               w.ID,
		Symbol:           w.Symbol,
		Side:             schema.Side(w.Side),
		Type:             schema.OrderType(w.Type),
		Flag:             schema.OrderFlag(w.Flag),
		Quantity:         w.Quantity,
		Price:            w.Price,
		TrailingDistance: w.TrailingDistance,
		Status:           schema.OrderStatus(w.Status),
		UpdatedAt:        w.Timestamp,
	}
}

type WirePosition struct {
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entryPrice"`
	Timestamp  int64   `json:"timestamp"`
}

// Subscription is one channel the client keeps subscribed across reconnects.
type Subscription struct {
	Channel   string
	Symbol    string
	Timeframe schema.Timeframe
}

const (
	ChannelCandles   = "candles"
	ChannelOrders    = "orders"
	ChannelPositions = "positions"
)

// Key identifies the subscription record. Resubscribing to the same key
// replaces the record.
func (s Subscription) Key() string {
	key := s.Channel + ":" + s.Symbol
	if s.Timeframe.IsAvailable() {
		key += ":" + s.Timeframe.String()
	}
	return key
}

func (s Subscription) request() Request {
	req := Request{Op: opSubscribe, Channel: s.Channel, Symbol: s.Symbol}
	if s.Timeframe.IsAvailable() {
		req.Timeframe = s.Timeframe.String()
	}
	return req
}

// sign is the hex HMAC-SHA256 of apiKey+nonce keyed by secret.
func sign(secret, apiKey, nonce string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(apiKey + nonce))
	return hex.EncodeToString(mac.Sum(nil))
}
