package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3"

	"consensus-trader/internal/errors"
	"consensus-trader/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	// closeMu serializes RecordClose so two exits of one trade cannot both
	// compute P&L.
	closeMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Signal log: one row per consensus decision
	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		confidence REAL NOT NULL,
		consensus INTEGER NOT NULL,
		reason TEXT,
		acted INTEGER DEFAULT 0,
		timestamp DATETIME NOT NULL
	);

	-- Decisions with their risk verdict
	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		direction TEXT NOT NULL,
		agree_count INTEGER NOT NULL,
		confidence REAL NOT NULL,
		approved INTEGER NOT NULL,
		reason TEXT,
		intent_id TEXT,
		payload TEXT NOT NULL
	);

	-- Trades opened from intents
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL,
		entry_time DATETIME NOT NULL,
		exit_time DATETIME,
		pnl REAL,
		pnl_percent REAL,
		exit_reason TEXT,
		strategy TEXT,
		confidence REAL,
		intent_id TEXT
	);

	-- Last approved signal per symbol
	CREATE TABLE IF NOT EXISTS cooldowns (
		symbol TEXT PRIMARY KEY,
		last_signal DATETIME NOT NULL
	);

	-- Engine switches shared across processes (scanner pause)
	CREATE TABLE IF NOT EXISTS engine_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Portfolio snapshots, one per cycle
	CREATE TABLE IF NOT EXISTS portfolio_snapshots (
		timestamp DATETIME PRIMARY KEY,
		portfolio_value REAL NOT NULL,
		cash REAL NOT NULL,
		open_positions INTEGER NOT NULL,
		day_pnl REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_signals_symbol_time ON signals(symbol, timestamp);
	CREATE INDEX IF NOT EXISTS idx_decisions_symbol_time ON decisions(symbol, timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, exit_time);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Signal log
// ============================================================================

// LogSignal appends one entry to the signal log. The reason is truncated to
// MaxReasonLength.
func (s *SQLiteStore) LogSignal(ctx context.Context, entry *models.SignalLogEntry) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (symbol, direction, confidence, consensus, reason, acted, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.Symbol, string(entry.Direction), entry.Confidence, entry.Consensus, TruncateReason(entry.Reason), boolInt(entry.Acted), entry.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to log signal: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// GetSignals retrieves signal log entries, newest first.
func (s *SQLiteStore) GetSignals(ctx context.Context, filter SignalFilter) ([]models.SignalLogEntry, error) {
	query := "SELECT id, symbol, direction, confidence, consensus, COALESCE(reason, ''), acted, timestamp FROM signals WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Direction != "" {
		query += " AND direction = ?"
		args = append(args, string(filter.Direction))
	}
	if filter.Acted != nil {
		query += " AND acted = ?"
		args = append(args, boolInt(*filter.Acted))
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate.UTC())
	}

	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var entries []models.SignalLogEntry
	for rows.Next() {
		var e models.SignalLogEntry
		var direction string
		var acted int
		if err := rows.Scan(&e.ID, &e.Symbol, &direction, &e.Confidence, &e.Consensus, &e.Reason, &acted, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		e.Direction = models.Direction(direction)
		e.Acted = acted == 1
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ============================================================================
// Decisions
// ============================================================================

// SaveDecision stores a decision and its assessment. The full record is kept
// as JSON next to the indexed columns.
func (s *SQLiteStore) SaveDecision(ctx context.Context, record *DecisionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}

	d := record.Decision
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (symbol, timestamp, direction, agree_count, confidence, approved, reason, intent_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.Symbol, record.Timestamp.UTC(), string(d.Direction), d.AgreeCount, d.Confidence, boolInt(record.Assessment.Approved), string(record.Assessment.Reason), record.IntentID, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

// GetDecisions retrieves decisions, newest first.
func (s *SQLiteStore) GetDecisions(ctx context.Context, filter DecisionFilter) ([]DecisionRecord, error) {
	query := "SELECT id, payload FROM decisions WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Approved != nil {
		query += " AND approved = ?"
		args = append(args, boolInt(*filter.Approved))
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate.UTC())
	}

	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var id int64
		var payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		var r DecisionRecord
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("failed to decode decision %d: %w", id, err)
		}
		r.ID = id
		records = append(records, r)
	}

	return records, rows.Err()
}

// ============================================================================
// Trades
// ============================================================================

// RecordOpen stores a newly opened trade.
func (s *SQLiteStore) RecordOpen(ctx context.Context, trade *models.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trades (id, symbol, side, quantity, entry_price, entry_time, strategy, confidence, intent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.Symbol, string(trade.Side), trade.Quantity, trade.EntryPrice, trade.EntryTime.UTC(), trade.Strategy, trade.Confidence, trade.IntentID)
	if err != nil {
		return fmt.Errorf("failed to record trade open: %w", err)
	}
	return nil
}

// RecordClose sets the exit of an open trade and computes its P&L. It returns
// errors.ErrNotFound when the trade does not exist and the stored trade
// unchanged when it is already closed.
func (s *SQLiteStore) RecordClose(ctx context.Context, tradeID string, exitPrice float64, reason string, at time.Time) (*models.Trade, error) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	trade, err := s.getTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.Closed() {
		return trade, nil
	}

	pnl, pnlPct := TradePnL(trade.Side, trade.Quantity, trade.EntryPrice, exitPrice)
	exit := at.UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE trades SET exit_price = ?, exit_time = ?, pnl = ?, pnl_percent = ?, exit_reason = ?
		WHERE id = ?
	`, exitPrice, exit, pnl, pnlPct, reason, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to record trade close: %w", err)
	}

	trade.ExitPrice = exitPrice
	trade.ExitTime = &exit
	trade.PnL = pnl
	trade.PnLPercent = pnlPct
	trade.ExitReason = reason
	return trade, nil
}

// TradePnL returns the dollar and percent P&L of a trade, rounded to cents
// and hundredths of a percent.
func TradePnL(side models.OrderSide, quantity int, entry, exit float64) (float64, float64) {
	qty := float64(quantity)
	pnl := (exit - entry) * qty
	if side == models.OrderSideSell {
		pnl = (entry - exit) * qty
	}
	pnlPct := 0.0
	if entry > 0 && qty > 0 {
		pnlPct = pnl / (entry * qty) * 100
	}
	return math.Round(pnl*100) / 100, math.Round(pnlPct*100) / 100
}

// OpenTrade returns the most recent open trade for symbol.
func (s *SQLiteStore) OpenTrade(ctx context.Context, symbol string) (*models.Trade, error) {
	closed := false
	trades, err := s.GetTrades(ctx, TradeFilter{Symbol: symbol, Closed: &closed, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "open trade for %s", symbol)
	}
	return &trades[0], nil
}

func (s *SQLiteStore) getTrade(ctx context.Context, id string) (*models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, tradeColumns+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query trade: %w", err)
		}
		return nil, errors.Wrapf(errors.ErrNotFound, "trade %s", id)
	}
	t, err := scanTrade(rows)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const tradeColumns = `SELECT id, symbol, side, quantity, entry_price, exit_price, entry_time, exit_time,
	pnl, pnl_percent, COALESCE(exit_reason, ''), COALESCE(strategy, ''), COALESCE(confidence, 0), COALESCE(intent_id, '')
	FROM trades`

// GetTrades retrieves trades, newest entry first.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := tradeColumns + " WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Side != "" {
		query += " AND side = ?"
		args = append(args, string(filter.Side))
	}
	if filter.Closed != nil {
		if *filter.Closed {
			query += " AND exit_time IS NOT NULL"
		} else {
			query += " AND exit_time IS NULL"
		}
	}
	if !filter.StartDate.IsZero() {
		query += " AND entry_time >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += " AND entry_time <= ?"
		args = append(args, filter.EndDate.UTC())
	}

	query += " ORDER BY entry_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

func scanTrade(rows *sql.Rows) (models.Trade, error) {
	var t models.Trade
	var side string
	var exitPrice, pnl, pnlPct sql.NullFloat64
	var exitTime sql.NullTime

	if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Quantity, &t.EntryPrice, &exitPrice, &t.EntryTime, &exitTime,
		&pnl, &pnlPct, &t.ExitReason, &t.Strategy, &t.Confidence, &t.IntentID); err != nil {
		return t, fmt.Errorf("failed to scan trade: %w", err)
	}

	t.Side = models.OrderSide(side)
	t.ExitPrice = exitPrice.Float64
	t.PnL = pnl.Float64
	t.PnLPercent = pnlPct.Float64
	if exitTime.Valid {
		exit := exitTime.Time
		t.ExitTime = &exit
	}
	return t, nil
}

// ============================================================================
// Cooldowns
// ============================================================================

// SaveCooldown upserts the last approved signal time for symbol.
func (s *SQLiteStore) SaveCooldown(ctx context.Context, symbol string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cooldowns (symbol, last_signal) VALUES (?, ?)
		ON CONFLICT(symbol) DO UPDATE SET last_signal = excluded.last_signal
		WHERE excluded.last_signal > cooldowns.last_signal
	`, symbol, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to save cooldown: %w", err)
	}
	return nil
}

// LoadCooldowns returns every stored last approved signal time.
func (s *SQLiteStore) LoadCooldowns(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT symbol, last_signal FROM cooldowns")
	if err != nil {
		return nil, fmt.Errorf("failed to query cooldowns: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var symbol string
		var at time.Time
		if err := rows.Scan(&symbol, &at); err != nil {
			return nil, fmt.Errorf("failed to scan cooldown: %w", err)
		}
		out[symbol] = at
	}

	return out, rows.Err()
}

// ============================================================================
// Engine state
// ============================================================================

// SaveState upserts an engine switch.
func (s *SQLiteStore) SaveState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save state %s: %w", key, err)
	}
	return nil
}

// LoadState returns an engine switch, or errors.ErrNotFound when unset.
func (s *SQLiteStore) LoadState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM engine_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", errors.Wrapf(errors.ErrNotFound, "state %s", key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load state %s: %w", key, err)
	}
	return value, nil
}

// ============================================================================
// Portfolio snapshots
// ============================================================================

// SnapshotPortfolio stores an account summary. Snapshots are keyed by the
// minute, so a second snapshot within one minute replaces the first.
func (s *SQLiteStore) SnapshotPortfolio(ctx context.Context, snap models.PortfolioSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO portfolio_snapshots (timestamp, portfolio_value, cash, open_positions, day_pnl)
		VALUES (?, ?, ?, ?, ?)
	`, snap.Timestamp.UTC().Truncate(time.Minute), snap.PortfolioValue, snap.Cash, snap.OpenPositions, snap.DayPnL)
	if err != nil {
		return fmt.Errorf("failed to save portfolio snapshot: %w", err)
	}
	return nil
}

// GetSnapshots returns the most recent snapshots, newest first.
func (s *SQLiteStore) GetSnapshots(ctx context.Context, limit int) ([]models.PortfolioSnapshot, error) {
	query := "SELECT timestamp, portfolio_value, cash, open_positions, day_pnl FROM portfolio_snapshots ORDER BY timestamp DESC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.PortfolioSnapshot
	for rows.Next() {
		var p models.PortfolioSnapshot
		if err := rows.Scan(&p.Timestamp, &p.PortfolioValue, &p.Cash, &p.OpenPositions, &p.DayPnL); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, p)
	}

	return snaps, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
