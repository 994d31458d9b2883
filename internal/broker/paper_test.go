package broker

import (
	"context"
	"testing"
	"time"

	"consensus-trader/internal/errors"
	"consensus-trader/internal/models"
)

func newTestPaper(now time.Time) *PaperBroker {
	return NewPaperBroker(PaperBrokerConfig{
		InitialBalance: 10000,
		Now:            func() time.Time { return now },
	})
}

func TestPaperBracketLifecycle(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))
	p.UpdatePrice("AAPL", 200)

	res, err := p.SubmitBracketOrder(ctx, models.BracketOrder{
		ClientOrderID: "intent-1", Symbol: "AAPL", Side: models.OrderSideBuy,
		Quantity: 5, StopLossPrice: 196, TakeProfitPrice: 208,
	})
	if err != nil {
		t.Fatalf("SubmitBracketOrder: %v", err)
	}
	if res.FilledPrice != 200 || res.FilledQty != 5 || res.ClientOrderID != "intent-1" {
		t.Errorf("unexpected fill %+v", res)
	}

	acct, _ := p.GetAccount(ctx)
	if acct.Cash != 9000 || acct.Equity != 10000 {
		t.Errorf("after entry: cash %v equity %v", acct.Cash, acct.Equity)
	}

	if fill := p.ProcessPrice("AAPL", 204); fill != nil {
		t.Fatalf("unexpected fill at 204: %+v", fill)
	}
	positions, _ := p.GetPositions(ctx)
	if len(positions) != 1 || positions[0].UnrealizedPL != 20 {
		t.Fatalf("positions = %+v", positions)
	}

	fill := p.ProcessPrice("AAPL", 209)
	if fill == nil || fill.Reason != "take_profit" || fill.Price != 208 {
		t.Fatalf("fill = %+v, want take_profit at 208", fill)
	}
	acct, _ = p.GetAccount(ctx)
	if acct.Cash != 10040 {
		t.Errorf("cash after target = %v, want 10040", acct.Cash)
	}
	if positions, _ := p.GetPositions(ctx); len(positions) != 0 {
		t.Errorf("position still open: %+v", positions)
	}
}

func TestPaperStopLoss(t *testing.T) {
	p := newTestPaper(time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))
	p.UpdatePrice("MSFT", 100)
	if _, err := p.SubmitBracketOrder(context.Background(), models.BracketOrder{
		Symbol: "MSFT", Side: models.OrderSideBuy, Quantity: 10, StopLossPrice: 98, TakeProfitPrice: 104,
	}); err != nil {
		t.Fatalf("SubmitBracketOrder: %v", err)
	}

	fill := p.ProcessPrice("MSFT", 97.5)
	if fill == nil || fill.Reason != "stop_loss" || fill.Price != 98 {
		t.Fatalf("fill = %+v, want stop_loss at 98", fill)
	}
}

func TestPaperRejections(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))

	order := models.BracketOrder{Symbol: "NVDA", Side: models.OrderSideBuy, Quantity: 1, StopLossPrice: 98, TakeProfitPrice: 104}
	if _, err := p.SubmitBracketOrder(ctx, order); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("no price: err = %v, want ErrNotFound", err)
	}

	p.UpdatePrice("NVDA", 100)
	order.Quantity = 1000
	if _, err := p.SubmitBracketOrder(ctx, order); !errors.Is(err, errors.ErrOrderRejected) {
		t.Errorf("insufficient funds: err = %v, want ErrOrderRejected", err)
	}

	if _, err := p.ClosePosition(ctx, "NVDA"); !errors.Is(err, errors.ErrPositionNotFound) {
		t.Errorf("close without position: err = %v", err)
	}
}

func TestPaperClockFollowsSession(t *testing.T) {
	// 10:00 New York on a Monday.
	open := newTestPaper(time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))
	if c, _ := open.GetClock(context.Background()); !c.IsOpen {
		t.Error("expected market open on Monday 10:00 ET")
	}
	// Saturday.
	closed := newTestPaper(time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC))
	if c, _ := closed.GetClock(context.Background()); c.IsOpen {
		t.Error("expected market closed on Saturday")
	}
}
