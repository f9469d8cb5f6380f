// Package report writes the artifacts of a finished backtest and prints its
// statistics.
package report

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"backtest/internal/engine"
	"backtest/internal/obs"
	"backtest/internal/order"
	"backtest/internal/schema"
	"backtest/internal/trade"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const (
	KindOrders    = "orders"
	KindTrades    = "trades"
	KindActionLog = "action-log"
)

// OrderRow is an order as written to the orders artifact.
type OrderRow struct {
	ID         string             `json:"id"`
	Symbol     string             `json:"symbol"`
	Side       schema.Side        `json:"side"`
	Type       schema.OrderType   `json:"type"`
	Flag       schema.OrderFlag   `json:"flag"`
	Quantity   decimal.Decimal    `json:"quantity"`
	Price      decimal.Decimal    `json:"price"`
	Status     schema.OrderStatus `json:"status"`
	CreatedAt  int64              `json:"createdAt"`
	UpdatedAt  int64              `json:"updatedAt"`
	ExecutedAt int64              `json:"executedAt"`
	CanceledAt int64              `json:"canceledAt"`
}

// TradeRow is a completed trade as written to the trades artifact.
type TradeRow struct {
	ID              string           `json:"id"`
	StrategyName    string           `json:"strategyName"`
	StrategyVersion string           `json:"strategyVersion"`
	Symbol          string           `json:"symbol"`
	Type            schema.TradeType `json:"type"`
	EntryPrice      decimal.Decimal  `json:"entryPrice"`
	ExitPrice       decimal.Decimal  `json:"exitPrice"`
	StopLossPrice   decimal.Decimal  `json:"stopLossPrice"`
	TakeProfitPrice decimal.Decimal  `json:"takeProfitPrice"`
	Quantity        decimal.Decimal  `json:"quantity"`
	Fee             decimal.Decimal  `json:"fee"`
	PNL             decimal.Decimal  `json:"pnl"`
	PNLPercent      decimal.Decimal  `json:"pnlPercent"`
	R               decimal.Decimal  `json:"r"`
	HoldingPeriod   float64          `json:"holdingPeriod"`
	OrderIDs        []string         `json:"orderIds"`
	OpenedAt        int64            `json:"openedAt"`
	ClosedAt        int64            `json:"closedAt"`
}

func NewOrderRow(o order.Order) OrderRow {
	return OrderRow{
		ID:         o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Type:       o.Type,
		Flag:       o.Flag,
		Quantity:   decimal.NewFromFloat(o.Quantity),
		Price:      decimal.NewFromFloat(o.Price),
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
		ExecutedAt: o.ExecutedAt,
		CanceledAt: o.CanceledAt,
	}
}

func NewTradeRow(t trade.Trade) TradeRow {
	ids := make([]string, 0, len(t.Orders))
	for _, o := range t.Orders {
		ids = append(ids, o.ID)
	}
	return TradeRow{
		ID:              t.ID,
		StrategyName:    t.StrategyName,
		StrategyVersion: t.StrategyVersion,
		Symbol:          t.Symbol,
		Type:            t.Type,
		EntryPrice:      decimal.NewFromFloat(t.EntryPrice),
		ExitPrice:       decimal.NewFromFloat(t.ExitPrice),
		StopLossPrice:   decimal.NewFromFloat(t.StopLossPrice),
		TakeProfitPrice: decimal.NewFromFloat(t.TakeProfitPrice),
		Quantity:        decimal.NewFromFloat(t.Quantity),
		Fee:             decimal.NewFromFloat(t.Fee),
		PNL:             decimal.NewFromFloat(t.PNL()),
		PNLPercent:      decimal.NewFromFloat(t.PercentagePNL()),
		R:               decimal.NewFromFloat(t.R()),
		HoldingPeriod:   t.HoldingPeriod(),
		OrderIDs:        ids,
		OpenedAt:        t.OpenedAt,
		ClosedAt:        t.ClosedAt,
	}
}

// Paths are the files one Write produced.
type Paths struct {
	Orders    string
	Trades    string
	ActionLog string
}

// Write stores the orders, trades and action log of result as
// <dir>/<kind>/<run start>.json.
func Write(dir string, result engine.Result) (Paths, error) {
	orders := make([]OrderRow, 0, len(result.Orders))
	for _, o := range result.Orders {
		orders = append(orders, NewOrderRow(o))
	}
	trades := make([]TradeRow, 0, len(result.Trades))
	for _, t := range result.Trades {
		trades = append(trades, NewTradeRow(t))
	}
	entries := result.Journal
	if entries == nil {
		entries = []obs.Entry{}
	}

	var (
		paths Paths
		err   error
	)
	if paths.Orders, err = writeJSON(dir, KindOrders, result.StartedAt, orders); err != nil {
		return Paths{}, err
	}
	if paths.Trades, err = writeJSON(dir, KindTrades, result.StartedAt, trades); err != nil {
		return Paths{}, err
	}
	if paths.ActionLog, err = writeJSON(dir, KindActionLog, result.StartedAt, entries); err != nil {
		return Paths{}, err
	}
	return paths, nil
}

func writeJSON(dir, kind string, ts int64, v any) (string, error) {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", errors.Wrapf(err, "marshal %s", kind)
	}
	folder := filepath.Join(dir, kind)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", errors.Wrapf(err, "mkdir %s", folder)
	}
	path := filepath.Join(folder, strconv.FormatInt(ts, 10)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "write %s", path)
	}
	return path, nil
}

// Print logs the candle and trade statistics of result.
func Print(result engine.Result) {
	c := result.Candles
	logs.Infof("candles: total %d, symbol %s, timeframe %s, period %s ~ %s, price change %.2f%%",
		c.Total, c.Symbol, c.Timeframe, formatTime(c.From), formatTime(c.To), c.PriceChangePercent)

	s := result.Stats
	if s.Total == 0 {
		logs.Info("no trades were made")
		return
	}
	logs.Infof("trades: total %d, starting balance %.2f, finishing balance %.2f, pnl %.4f (%.2f%%)",
		s.Total, s.StartingBalance, s.FinishingBalance, s.PNL, s.PNLPercent)
	logs.Infof("trades: win rate %.0f%%, R min %.2f avg %.2f max %.2f, longs %.0f%%, shorts %.0f%%",
		s.WinRate, s.MinR, s.AverageR, s.MaxR, s.LongsPercent, s.ShortsPercent)
	if n := result.Simulation.ConflictingOrdersCount; n > 0 {
		logs.Errorf("there were %d conflicting orders, the result may be inaccurate", n)
	}
}

func formatTime(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.DateTime)
}
