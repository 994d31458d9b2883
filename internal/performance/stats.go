package performance

import (
	"math"
	"sort"

	"consensus-trader/internal/models"
)

// TradeStats summarizes closed trades.
type TradeStats struct {
	TotalTrades  int           `json:"total_trades"`
	Wins         int           `json:"wins"`
	Losses       int           `json:"losses"`
	WinRate      float64       `json:"win_rate"`
	AvgWin       float64       `json:"avg_win"`
	AvgLoss      float64       `json:"avg_loss"`
	ProfitFactor float64       `json:"profit_factor"`
	TotalPnL     float64       `json:"total_pnl"`
	BestTrade    *models.Trade `json:"best_trade,omitempty"`
	WorstTrade   *models.Trade `json:"worst_trade,omitempty"`
	OpenTrades   int           `json:"open_trades"`
}

// Summarize computes statistics over the closed trades in trades. A trade
// with zero P&L counts as a loss. ProfitFactor is gross profit over gross
// loss and stays zero when there are no losing trades.
func Summarize(trades []models.Trade) TradeStats {
	var stats TradeStats
	var grossWin, grossLoss float64

	for i := range trades {
		t := trades[i]
		if !t.Closed() {
			stats.OpenTrades++
			continue
		}
		stats.TotalTrades++
		stats.TotalPnL += t.PnL
		if t.PnL > 0 {
			stats.Wins++
			grossWin += t.PnL
		} else {
			stats.Losses++
			grossLoss += -t.PnL
		}
		if stats.BestTrade == nil || t.PnL > stats.BestTrade.PnL {
			stats.BestTrade = &t
		}
		if stats.WorstTrade == nil || t.PnL < stats.WorstTrade.PnL {
			stats.WorstTrade = &t
		}
	}

	if stats.TotalTrades == 0 {
		return stats
	}
	stats.WinRate = round2(float64(stats.Wins) / float64(stats.TotalTrades) * 100)
	if stats.Wins > 0 {
		stats.AvgWin = round2(grossWin / float64(stats.Wins))
	}
	if stats.Losses > 0 {
		stats.AvgLoss = round2(grossLoss / float64(stats.Losses))
		if grossLoss > 0 {
			stats.ProfitFactor = round2(grossWin / grossLoss)
		}
	}
	stats.TotalPnL = round2(stats.TotalPnL)
	return stats
}

// SymbolPnL is the realized P&L of one symbol.
type SymbolPnL struct {
	Symbol string  `json:"symbol"`
	Trades int     `json:"trades"`
	PnL    float64 `json:"pnl"`
}

// BySymbol groups realized P&L by symbol, best first.
func BySymbol(trades []models.Trade) []SymbolPnL {
	agg := make(map[string]*SymbolPnL)
	for _, t := range trades {
		if !t.Closed() {
			continue
		}
		s, ok := agg[t.Symbol]
		if !ok {
			s = &SymbolPnL{Symbol: t.Symbol}
			agg[t.Symbol] = s
		}
		s.Trades++
		s.PnL += t.PnL
	}

	out := make([]SymbolPnL, 0, len(agg))
	for _, s := range agg {
		s.PnL = round2(s.PnL)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PnL == out[j].PnL {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].PnL > out[j].PnL
	})
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
