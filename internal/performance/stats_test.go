package performance

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"consensus-trader/internal/models"
)

func closedTrade(symbol string, pnl float64) models.Trade {
	exit := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	return models.Trade{Symbol: symbol, Side: models.OrderSideBuy, Quantity: 1, PnL: pnl, ExitTime: &exit}
}

func TestSummarize(t *testing.T) {
	trades := []models.Trade{
		closedTrade("AAPL", 120),
		closedTrade("MSFT", -40),
		closedTrade("AAPL", 80),
		closedTrade("NVDA", -60),
		{Symbol: "AMD", Quantity: 3},
	}

	s := Summarize(trades)
	if s.TotalTrades != 4 || s.Wins != 2 || s.Losses != 2 || s.OpenTrades != 1 {
		t.Fatalf("counts = %+v", s)
	}
	if s.WinRate != 50 || s.AvgWin != 100 || s.AvgLoss != 50 {
		t.Errorf("rates = %v %v %v", s.WinRate, s.AvgWin, s.AvgLoss)
	}
	if s.ProfitFactor != 2 || s.TotalPnL != 100 {
		t.Errorf("pf = %v total = %v", s.ProfitFactor, s.TotalPnL)
	}
	if s.BestTrade.PnL != 120 || s.WorstTrade.Symbol != "NVDA" {
		t.Errorf("best/worst = %+v / %+v", s.BestTrade, s.WorstTrade)
	}
}

func TestSummarizeEdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		trades []models.Trade
		want   TradeStats
	}{
		{"empty", nil, TradeStats{}},
		{"only open", []models.Trade{{Symbol: "AAPL"}}, TradeStats{OpenTrades: 1}},
		{"no losers", []models.Trade{closedTrade("AAPL", 10)}, TradeStats{TotalTrades: 1, Wins: 1, WinRate: 100, AvgWin: 10, TotalPnL: 10}},
		{"breakeven is a loss", []models.Trade{closedTrade("AAPL", 0)}, TradeStats{TotalTrades: 1, Losses: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.trades)
			got.BestTrade, got.WorstTrade = nil, nil
			if got != tt.want {
				t.Errorf("Summarize = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBySymbol(t *testing.T) {
	got := BySymbol([]models.Trade{
		closedTrade("MSFT", -5),
		closedTrade("AAPL", 10),
		closedTrade("AAPL", 2.5),
		{Symbol: "NVDA"},
	})
	if len(got) != 2 || got[0].Symbol != "AAPL" || got[0].Trades != 2 || got[0].PnL != 12.5 {
		t.Errorf("BySymbol = %+v", got)
	}
}

func TestProperty_SummarizeConsistent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("wins + losses = total, total P&L = sum, win rate in [0,100]", prop.ForAll(
		func(pnls []float64) bool {
			trades := make([]models.Trade, len(pnls))
			var sum float64
			for i, p := range pnls {
				trades[i] = closedTrade("SYM", p)
				sum += p
			}
			s := Summarize(trades)
			if s.Wins+s.Losses != s.TotalTrades || s.TotalTrades != len(pnls) {
				return false
			}
			if math.Abs(s.TotalPnL-sum) > 0.01 {
				return false
			}
			if s.WinRate < 0 || s.WinRate > 100 || s.ProfitFactor < 0 {
				return false
			}
			if len(pnls) > 0 && s.BestTrade.PnL < s.WorstTrade.PnL {
				return false
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(-1000, 1000)),
	))

	properties.TestingRun(t)
}
