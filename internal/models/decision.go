package models

import "time"

// ConsensusDecision is the reconciled view of the three strategy signals for a
// symbol in one cycle. It is not modified after the risk gate sees it.
type ConsensusDecision struct {
	Symbol     string            `json:"symbol"`
	Timestamp  time.Time         `json:"timestamp"`
	Direction  Direction         `json:"direction"`
	AgreeCount int               `json:"agree_count"`
	Confidence float64           `json:"confidence"`
	Signals    [3]StrategySignal `json:"contributing_signals"`

	// Decision context supplied from the snapshots.
	Price          float64 `json:"price"`
	DailyTrend     Trend   `json:"daily_trend,omitempty"`
	EarningsWindow bool    `json:"earnings_window,omitempty"`
}

// Actionable reports whether the decision carries a trade direction.
func (d ConsensusDecision) Actionable() bool {
	return d.Direction == Buy || d.Direction == Sell
}

// RejectionReason is the fixed taxonomy of risk gate outcomes.
type RejectionReason string

const (
	ReasonNone                RejectionReason = ""
	ReasonNoConsensus         RejectionReason = "NO_CONSENSUS"
	ReasonMarketClosed        RejectionReason = "MARKET_CLOSED"
	ReasonDuplicatePosition   RejectionReason = "DUPLICATE_POSITION"
	ReasonNoPositionToSell    RejectionReason = "NO_POSITION_TO_SELL"
	ReasonMaxPositionsReached RejectionReason = "MAX_POSITIONS_REACHED"
	ReasonSignalCooldown      RejectionReason = "SIGNAL_COOLDOWN"
	ReasonTrendMisaligned     RejectionReason = "TREND_MISALIGNED"
	ReasonEarningsBlackout    RejectionReason = "EARNINGS_BLACKOUT"
	ReasonTradingHalted       RejectionReason = "TRADING_HALTED"
	ReasonInvalidPrice        RejectionReason = "INVALID_PRICE"
	ReasonInsufficientSize    RejectionReason = "INSUFFICIENT_SIZE"
)

// RiskAssessment is the risk gate verdict for one consensus decision.
// Reason is set iff Approved is false; prices and size are set iff Approved.
type RiskAssessment struct {
	Approved        bool            `json:"approved"`
	Reason          RejectionReason `json:"rejection_reason,omitempty"`
	Detail          string          `json:"detail,omitempty"`
	EntryPrice      float64         `json:"entry_price,omitempty"`
	StopLossPrice   float64         `json:"stop_loss_price,omitempty"`
	TakeProfitPrice float64         `json:"take_profit_price,omitempty"`
	PositionSize    float64         `json:"position_size,omitempty"`
}

// Reject builds a rejected assessment.
func Reject(reason RejectionReason, detail string) RiskAssessment {
	return RiskAssessment{Approved: false, Reason: reason, Detail: detail}
}

// PortfolioState is the read-only account view the risk gate checks against.
type PortfolioState struct {
	OpenPositions map[string]struct{}
	AccountEquity float64
	IsMarketOpen  bool
}

// NewPortfolioState builds a portfolio state from a list of open symbols.
func NewPortfolioState(equity float64, marketOpen bool, symbols ...string) PortfolioState {
	open := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		open[s] = struct{}{}
	}
	return PortfolioState{OpenPositions: open, AccountEquity: equity, IsMarketOpen: marketOpen}
}

// HasPosition reports whether symbol is held.
func (p PortfolioState) HasPosition(symbol string) bool {
	_, ok := p.OpenPositions[symbol]
	return ok
}

// OpenCount returns the number of open positions.
func (p PortfolioState) OpenCount() int {
	return len(p.OpenPositions)
}

// Clone returns a deep copy.
func (p PortfolioState) Clone() PortfolioState {
	open := make(map[string]struct{}, len(p.OpenPositions))
	for s := range p.OpenPositions {
		open[s] = struct{}{}
	}
	p.OpenPositions = open
	return p
}
