package trade

import (
	"math"

	"backtest/internal/schema"
	"backtest/internal/state"
)

// Stats summarizes the completed trades of a run.
type Stats struct {
	Total            int     `json:"total"`
	StartingBalance  float64 `json:"startingBalance"`
	FinishingBalance float64 `json:"finishingBalance"`
	PNL              float64 `json:"pnl"`
	PNLPercent       float64 `json:"pnlPercent"`
	WinRate          float64 `json:"winRate"`
	MinR             float64 `json:"minR"`
	AverageR         float64 `json:"averageR"`
	MaxR             float64 `json:"maxR"`
	LongsPercent     float64 `json:"longsPercent"`
	ShortsPercent    float64 `json:"shortsPercent"`
}

// Summarize computes the statistics of trades against the simulation that produced them.
// Win rate ignores break-even trades. Ratios are rounded to 2 places, PNL to 4.
func Summarize(trades []Trade, sim *state.Simulation) Stats {
	stats := Stats{
		Total:            len(trades),
		StartingBalance:  state.Round(sim.StartingBalance, 2),
		FinishingBalance: state.Round(sim.CurrentBalance, 2),
		PNL:              state.Round(sim.Profit, 4),
		PNLPercent:       sim.ProfitPercent(),
	}
	if len(trades) == 0 {
		return stats
	}

	var wins, losses, longs int
	var sumR float64
	minR, maxR := math.Inf(1), math.Inf(-1)
	for _, t := range trades {
		switch pnl := t.PNL(); {
		case pnl > 0:
			wins++
		case pnl < 0:
			losses++
		}
		if t.Type == schema.TradeTypeLong {
			longs++
		}
		r := t.R()
		sumR += r
		minR = math.Min(minR, r)
		maxR = math.Max(maxR, r)
	}

	if wins+losses > 0 {
		stats.WinRate = math.Round(float64(wins) / float64(wins+losses) * 100)
	}
	stats.MinR = state.Round(minR, 2)
	stats.MaxR = state.Round(maxR, 2)
	stats.AverageR = state.Round(sumR/float64(len(trades)), 2)
	stats.LongsPercent = math.Round(float64(longs) / float64(len(trades)) * 100)
	stats.ShortsPercent = 100 - stats.LongsPercent
	return stats
}
