// Package store provides data persistence implementations.
package store

import (
	"context"
	"time"

	"consensus-trader/internal/models"
)

// MaxReasonLength caps the reason column of the signal log.
const MaxReasonLength = 300

// Store persists the signal log, decisions, trades, cooldowns and portfolio
// snapshots.
type Store interface {
	// Signal log
	LogSignal(ctx context.Context, entry *models.SignalLogEntry) error
	GetSignals(ctx context.Context, filter SignalFilter) ([]models.SignalLogEntry, error)

	// Decisions
	SaveDecision(ctx context.Context, record *DecisionRecord) error
	GetDecisions(ctx context.Context, filter DecisionFilter) ([]DecisionRecord, error)

	// Trades
	RecordOpen(ctx context.Context, trade *models.Trade) error
	RecordClose(ctx context.Context, tradeID string, exitPrice float64, reason string, at time.Time) (*models.Trade, error)
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)
	OpenTrade(ctx context.Context, symbol string) (*models.Trade, error)

	// Portfolio snapshots
	SnapshotPortfolio(ctx context.Context, snap models.PortfolioSnapshot) error
	GetSnapshots(ctx context.Context, limit int) ([]models.PortfolioSnapshot, error)

	CooldownStore
	StateStore

	Close() error
}

// StateStore persists small engine switches such as the scanner pause, so a
// CLI invocation can steer a running engine and the switch survives restarts.
type StateStore interface {
	SaveState(ctx context.Context, key, value string) error
	LoadState(ctx context.Context, key string) (string, error)
}

// CooldownStore persists the time of the last approved signal per symbol so
// cooldowns survive restarts.
type CooldownStore interface {
	SaveCooldown(ctx context.Context, symbol string, at time.Time) error
	LoadCooldowns(ctx context.Context) (map[string]time.Time, error)
}

// DecisionRecord is one consensus decision with its risk verdict.
type DecisionRecord struct {
	ID         int64                    `json:"id"`
	Symbol     string                   `json:"symbol"`
	Timestamp  time.Time                `json:"timestamp"`
	Decision   models.ConsensusDecision `json:"decision"`
	Assessment models.RiskAssessment    `json:"assessment"`
	IntentID   string                   `json:"intent_id,omitempty"`
}

// SignalFilter filters signal log queries.
type SignalFilter struct {
	Symbol    string
	Direction models.Direction
	Acted     *bool
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// DecisionFilter filters decision queries.
type DecisionFilter struct {
	Symbol    string
	Approved  *bool
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// TradeFilter filters trade queries.
type TradeFilter struct {
	Symbol    string
	Side      models.OrderSide
	Closed    *bool
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// TruncateReason shortens reason to MaxReasonLength runes.
func TruncateReason(reason string) string {
	r := []rune(reason)
	if len(r) <= MaxReasonLength {
		return reason
	}
	return string(r[:MaxReasonLength])
}
