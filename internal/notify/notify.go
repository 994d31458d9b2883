// Package notify provides notification functionality for the trading engine.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"consensus-trader/internal/config"
	"consensus-trader/internal/errors"
	"consensus-trader/internal/models"
	"consensus-trader/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Notifier defines the interface for sending engine notifications.
type Notifier interface {
	SendSignal(ctx context.Context, record models.SignalRecord) error
	SendSuppressed(ctx context.Context, s models.SuppressedSignal) error
	SendScanSummary(ctx context.Context, summary ScanSummary) error
	SendDailySummary(ctx context.Context, summary DailySummary) error
	SendStartup(ctx context.Context, startup Startup) error
	SendStopped(ctx context.Context, stopped Stopped) error
	SendError(ctx context.Context, err error, errContext string) error
}

// NotificationChannel defines a delivery channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationSignal     NotificationType = "SIGNAL"
	NotificationSuppressed NotificationType = "SUPPRESSED"
	NotificationScan       NotificationType = "SCAN"
	NotificationSummary    NotificationType = "SUMMARY"
	NotificationLifecycle  NotificationType = "LIFECYCLE"
	NotificationError      NotificationType = "ERROR"
)

// ScanSummary describes one finished scan cycle.
type ScanSummary struct {
	Cycle         int64
	Checked       int
	Skipped       int
	Suppressed    int
	Intents       []models.SignalRecord
	Equity        float64
	DayPnL        float64
	OpenPositions []models.Position
	Duration      time.Duration
}

// DailySummary represents the end-of-day portfolio report.
type DailySummary struct {
	Date          string
	Equity        float64
	Cash          float64
	DayPnL        float64
	DayPnLPercent float64
	Positions     []models.Position
	TradesClosed  int
	WinRate       float64
	RealizedPnL   float64
}

// Startup describes the engine configuration announced at start.
type Startup struct {
	Mode         string
	Watchlist    []string
	Interval     time.Duration
	RiskPct      float64
	MaxPositions int
	Equity       float64
}

// Stopped describes the engine state announced at shutdown.
type Stopped struct {
	Cycles  int64
	Intents int
	Equity  float64
}

// MultiNotifier sends notifications to every enabled channel.
type MultiNotifier struct {
	channels       []NotificationChannel
	notifyRejected bool
	now            func() time.Time
	mu             sync.RWMutex
}

// NewMultiNotifier creates a MultiNotifier with the channels enabled in cfg.
// Terminal output is added by the caller since it needs a writer.
func NewMultiNotifier(cfg config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		notifyRejected: cfg.NotifyRejected,
		now:            time.Now,
	}
	if !cfg.Enabled {
		return mn
	}
	if cfg.Webhook.Enabled {
		mn.AddChannel(NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.AddChannel(NewTelegramNotifier(cfg.Telegram))
	}
	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Channels returns the names of the registered channels.
func (mn *MultiNotifier) Channels() []string {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	names := make([]string, 0, len(mn.channels))
	for _, ch := range mn.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Send delivers n to every enabled channel. A failing channel does not stop
// delivery to the others.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = mn.now()
	}

	mn.mu.RLock()
	channels := make([]NotificationChannel, len(mn.channels))
	copy(channels, mn.channels)
	mn.mu.RUnlock()

	var errs errors.MultiError
	for _, ch := range channels {
		if !ch.IsEnabled() {
			continue
		}
		if err := ch.Send(ctx, n); err != nil {
			errs.Append(errors.Wrap(err, ch.Name()))
		}
	}
	return errs.ErrOrNil()
}

// SendSignal sends an actionable signal with its bracket levels.
func (mn *MultiNotifier) SendSignal(ctx context.Context, r models.SignalRecord) error {
	emoji := "📈"
	if r.Direction == models.Sell {
		emoji = "📉"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Confidence: %.0f%%  Consensus: %d/3\n", r.Confidence*100, r.AgreeCount)
	fmt.Fprintf(&sb, "EP %s  SL %s  TP %s\n",
		utils.FormatUSD(r.EntryPrice), utils.FormatUSD(r.StopLossPrice), utils.FormatUSD(r.TakeProfitPrice))
	fmt.Fprintf(&sb, "Size: %s (%d sh)", utils.FormatUSD(r.PositionSize), r.Quantity)
	for _, s := range r.Breakdown {
		fmt.Fprintf(&sb, "\n• %s %s %.2f", s.StrategyID, s.Direction, s.Strength)
	}
	if r.Rationale != "" {
		fmt.Fprintf(&sb, "\n\n%s", utils.Truncate(r.Rationale, 300))
	}

	return mn.Send(ctx, Notification{
		Type:      NotificationSignal,
		Title:     fmt.Sprintf("%s %s %s", emoji, r.Direction, r.Symbol),
		Message:   sb.String(),
		Timestamp: r.Timestamp,
		Data: map[string]interface{}{
			"symbol":            r.Symbol,
			"direction":         r.Direction,
			"confidence":        r.Confidence,
			"agree_count":       r.AgreeCount,
			"entry_price":       r.EntryPrice,
			"stop_loss_price":   r.StopLossPrice,
			"take_profit_price": r.TakeProfitPrice,
			"position_size":     r.PositionSize,
			"quantity":          r.Quantity,
			"breakdown":         r.Breakdown,
		},
	})
}

// SendSuppressed reports a rejected decision. It is a no-op unless
// notify_rejected is set; NO_CONSENSUS is never sent.
func (mn *MultiNotifier) SendSuppressed(ctx context.Context, s models.SuppressedSignal) error {
	if !mn.notifyRejected || s.Reason == models.ReasonNoConsensus {
		return nil
	}

	message := fmt.Sprintf("Reason: %s\nConfidence: %.0f%%  Consensus: %d/3", s.Reason, s.Confidence*100, s.AgreeCount)
	if s.Detail != "" {
		message += "\n" + s.Detail
	}

	return mn.Send(ctx, Notification{
		Type:      NotificationSuppressed,
		Title:     fmt.Sprintf("⛔ %s %s suppressed", s.Direction, s.Symbol),
		Message:   message,
		Timestamp: s.Timestamp,
		Data: map[string]interface{}{
			"symbol":    s.Symbol,
			"direction": s.Direction,
			"reason":    s.Reason,
			"detail":    s.Detail,
		},
	})
}

// SendScanSummary sends the per-cycle digest.
func (mn *MultiNotifier) SendScanSummary(ctx context.Context, s ScanSummary) error {
	var lines []string
	for _, r := range s.Intents {
		emoji := "📈"
		if r.Direction == models.Sell {
			emoji = "📉"
		}
		lines = append(lines, fmt.Sprintf("%s %s %s %.0f%%  SL %s  TP %s",
			emoji, r.Direction, r.Symbol, r.Confidence*100,
			utils.FormatUSD(r.StopLossPrice), utils.FormatUSD(r.TakeProfitPrice)))
	}
	if len(lines) == 0 {
		lines = append(lines, fmt.Sprintf("No signals from %d symbols", s.Checked))
	}

	lines = append(lines, fmt.Sprintf("💼 %s  Day %s  %d pos",
		utils.FormatUSD(s.Equity), utils.FormatPnL(s.DayPnL), len(s.OpenPositions)))
	if len(s.OpenPositions) > 0 {
		parts := make([]string, 0, len(s.OpenPositions))
		for _, p := range s.OpenPositions {
			parts = append(parts, fmt.Sprintf("%s %s", p.Symbol, utils.FormatPercent(positionReturn(p))))
		}
		lines = append(lines, strings.Join(parts, "  "))
	}
	if s.Skipped > 0 || s.Suppressed > 0 {
		lines = append(lines, fmt.Sprintf("suppressed %d  skipped %d", s.Suppressed, s.Skipped))
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationScan,
		Title:   fmt.Sprintf("Scan #%d", s.Cycle),
		Message: strings.Join(lines, "\n"),
		Data: map[string]interface{}{
			"cycle":       s.Cycle,
			"checked":     s.Checked,
			"intents":     len(s.Intents),
			"suppressed":  s.Suppressed,
			"skipped":     s.Skipped,
			"equity":      s.Equity,
			"day_pnl":     s.DayPnL,
			"duration_ms": s.Duration.Milliseconds(),
		},
	})
}

// SendDailySummary sends the end-of-day portfolio summary.
func (mn *MultiNotifier) SendDailySummary(ctx context.Context, s DailySummary) error {
	pnlEmoji := "📊"
	if s.DayPnL > 0 {
		pnlEmoji = "💰"
	} else if s.DayPnL < 0 {
		pnlEmoji = "📉"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Portfolio: %s\n", utils.FormatUSD(s.Equity))
	fmt.Fprintf(&sb, "Cash: %s\n", utils.FormatUSD(s.Cash))
	fmt.Fprintf(&sb, "Day P&L: %s (%s)\n", utils.FormatPnL(s.DayPnL), utils.FormatPercent(s.DayPnLPercent))
	if s.TradesClosed > 0 {
		fmt.Fprintf(&sb, "Closed: %d  Win rate: %.1f%%  Realized: %s\n",
			s.TradesClosed, s.WinRate, utils.FormatPnL(s.RealizedPnL))
	}
	fmt.Fprintf(&sb, "\nPositions (%d):", len(s.Positions))
	if len(s.Positions) == 0 {
		sb.WriteString(" None")
	}
	for _, p := range s.Positions {
		fmt.Fprintf(&sb, "\n  %s: %s sh @ %s | P&L: %s (%s)",
			p.Symbol, formatShares(p.Quantity), utils.FormatUSD(p.AvgEntryPrice),
			utils.FormatPnL(p.UnrealizedPL), utils.FormatPercent(positionReturn(p)))
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationSummary,
		Title:   fmt.Sprintf("%s Daily Summary - %s", pnlEmoji, s.Date),
		Message: sb.String(),
		Data: map[string]interface{}{
			"date":          s.Date,
			"equity":        s.Equity,
			"cash":          s.Cash,
			"day_pnl":       s.DayPnL,
			"positions":     len(s.Positions),
			"trades_closed": s.TradesClosed,
			"win_rate":      s.WinRate,
			"realized_pnl":  s.RealizedPnL,
		},
	})
}

// SendStartup announces the engine going online.
func (mn *MultiNotifier) SendStartup(ctx context.Context, s Startup) error {
	message := fmt.Sprintf("Scanning %d symbols every %s\nRisk %.1f%%  |  Positions: max %d\nEquity: %s",
		len(s.Watchlist), s.Interval, s.RiskPct, s.MaxPositions, utils.FormatUSD(s.Equity))

	return mn.Send(ctx, Notification{
		Type:    NotificationLifecycle,
		Title:   fmt.Sprintf("🤖 Engine online (%s)", s.Mode),
		Message: message,
		Data: map[string]interface{}{
			"mode":      s.Mode,
			"watchlist": s.Watchlist,
			"interval":  s.Interval.String(),
		},
	})
}

// SendStopped announces a graceful shutdown.
func (mn *MultiNotifier) SendStopped(ctx context.Context, s Stopped) error {
	return mn.Send(ctx, Notification{
		Type:    NotificationLifecycle,
		Title:   "⏹ Engine stopped",
		Message: fmt.Sprintf("%s  #%d scans  %d signals", utils.FormatUSD(s.Equity), s.Cycles, s.Intents),
		Data: map[string]interface{}{
			"cycles":  s.Cycles,
			"intents": s.Intents,
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   "❌ Error",
		Message: fmt.Sprintf("Context: %s\nError: %s", errContext, utils.Truncate(err.Error(), 300)),
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

func positionReturn(p models.Position) float64 {
	if p.AvgEntryPrice == 0 || p.Quantity == 0 {
		return 0
	}
	return p.UnrealizedPL / (p.AvgEntryPrice * abs(p.Quantity)) * 100
}

func formatShares(q float64) string {
	return fmt.Sprintf("%.0f", q)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send posts the notification as JSON.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshaling webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "creating webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ConsensusTrader/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "sending webhook")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramNotifier sends notifications via Telegram bot.
type TelegramNotifier struct {
	apiBase  string
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		apiBase:  DefaultTelegramAPI,
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithAPIBase points the notifier at a different Bot API host.
func (t *TelegramNotifier) WithAPIBase(base string) *TelegramNotifier {
	t.apiBase = strings.TrimRight(base, "/")
	return t
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Send sends a notification via Telegram using HTML parse mode.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	text := fmt.Sprintf("<b>%s</b>\n%s", escapeHTML(n.Title), escapeHTML(n.Message))
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)

	payload := map[string]interface{}{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshaling telegram payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "creating telegram request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "sending telegram message")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// NoOpNotifier is a notifier that does nothing.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

func (n *NoOpNotifier) SendSignal(ctx context.Context, record models.SignalRecord) error { return nil }

func (n *NoOpNotifier) SendSuppressed(ctx context.Context, s models.SuppressedSignal) error {
	return nil
}

func (n *NoOpNotifier) SendScanSummary(ctx context.Context, summary ScanSummary) error { return nil }

func (n *NoOpNotifier) SendDailySummary(ctx context.Context, summary DailySummary) error {
	return nil
}

func (n *NoOpNotifier) SendStartup(ctx context.Context, startup Startup) error { return nil }

func (n *NoOpNotifier) SendStopped(ctx context.Context, stopped Stopped) error { return nil }

func (n *NoOpNotifier) SendError(ctx context.Context, err error, errContext string) error {
	return nil
}

var (
	_ Notifier = (*MultiNotifier)(nil)
	_ Notifier = (*NoOpNotifier)(nil)
)
