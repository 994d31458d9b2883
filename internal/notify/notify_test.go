package notify

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"consensus-trader/internal/config"
	"consensus-trader/internal/errors"
	"consensus-trader/internal/models"
)

type recordingChannel struct {
	name    string
	enabled bool
	err     error
	mu      sync.Mutex
	sent    []Notification
}

func (c *recordingChannel) Name() string    { return c.name }
func (c *recordingChannel) IsEnabled() bool { return c.enabled }

func (c *recordingChannel) Send(ctx context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return c.err
}

func sampleRecord() models.SignalRecord {
	return models.SignalRecord{
		Symbol:          "AAPL",
		Direction:       models.Buy,
		Timestamp:       time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
		Confidence:      0.75,
		AgreeCount:      2,
		EntryPrice:      200,
		StopLossPrice:   196,
		TakeProfitPrice: 208,
		PositionSize:    1000,
		Quantity:        5,
		Rationale:       "momentum: EMA stack bullish; mean_reversion: RSI oversold",
		Breakdown: []models.StrategySignal{
			{StrategyID: models.StrategyMomentum, Direction: models.Buy, Strength: 0.8},
			{StrategyID: models.StrategyMeanReversion, Direction: models.Buy, Strength: 0.65},
			{StrategyID: models.StrategyNewsSentiment, Direction: models.Hold, Strength: 0.2},
		},
	}
}

func TestMultiNotifierCollectsChannelErrors(t *testing.T) {
	mn := NewMultiNotifier(config.NotificationConfig{})
	ok := &recordingChannel{name: "ok", enabled: true}
	failing := &recordingChannel{name: "broken", enabled: true, err: errors.New("boom")}
	disabled := &recordingChannel{name: "off"}
	mn.AddChannel(failing)
	mn.AddChannel(ok)
	mn.AddChannel(disabled)

	err := mn.SendSignal(context.Background(), sampleRecord())
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("err = %v, want failure naming the broken channel", err)
	}
	if len(ok.sent) != 1 {
		t.Errorf("healthy channel got %d notifications, want 1", len(ok.sent))
	}
	if len(disabled.sent) != 0 {
		t.Errorf("disabled channel was called")
	}

	n := ok.sent[0]
	if n.Type != NotificationSignal || !strings.Contains(n.Title, "BUY AAPL") {
		t.Errorf("unexpected notification %+v", n)
	}
	for _, want := range []string{"75%", "2/3", "$196.00", "$208.00", "5 sh", "mean_reversion BUY 0.65"} {
		if !strings.Contains(n.Message, want) {
			t.Errorf("message missing %q:\n%s", want, n.Message)
		}
	}
}

func TestSendSuppressedRespectsConfig(t *testing.T) {
	s := models.SuppressedSignal{
		Symbol: "AAPL", Direction: models.Buy, Reason: models.ReasonSignalCooldown,
		Confidence: 0.7, AgreeCount: 2, Timestamp: time.Now(),
	}

	quiet := NewMultiNotifier(config.NotificationConfig{})
	ch := &recordingChannel{name: "rec", enabled: true}
	quiet.AddChannel(ch)
	if err := quiet.SendSuppressed(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if len(ch.sent) != 0 {
		t.Fatal("suppressed signal sent with notify_rejected off")
	}

	loud := NewMultiNotifier(config.NotificationConfig{NotifyRejected: true})
	loud.AddChannel(ch)
	_ = loud.SendSuppressed(context.Background(), s)
	s.Reason = models.ReasonNoConsensus
	_ = loud.SendSuppressed(context.Background(), s)
	if len(ch.sent) != 1 || !strings.Contains(ch.sent[0].Message, "SIGNAL_COOLDOWN") {
		t.Errorf("sent = %+v, want only the cooldown rejection", ch.sent)
	}
}

func TestNewMultiNotifierChannelsFromConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.NotificationConfig
		want []string
	}{
		{"disabled", config.NotificationConfig{Enabled: false, Webhook: config.WebhookConfig{Enabled: true, URL: "http://x"}}, []string{}},
		{"webhook only", config.NotificationConfig{Enabled: true, Webhook: config.WebhookConfig{Enabled: true, URL: "http://x"}}, []string{"webhook"}},
		{"both", config.NotificationConfig{
			Enabled:  true,
			Webhook:  config.WebhookConfig{Enabled: true, URL: "http://x"},
			Telegram: config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "1"},
		}, []string{"webhook", "telegram"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewMultiNotifier(tt.cfg).Channels()
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("channels = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTelegramNotifierSendsHTML(t *testing.T) {
	var payload map[string]interface{}
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	tg := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "TOKEN", ChatID: "42"}).WithAPIBase(srv.URL)
	err := tg.Send(context.Background(), Notification{Title: "BUY AAPL", Message: "P&L <up>"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %s", path)
	}
	if payload["parse_mode"] != "HTML" || payload["chat_id"] != "42" {
		t.Errorf("payload = %v", payload)
	}
	if text, _ := payload["text"].(string); text != "<b>BUY AAPL</b>\nP&amp;L &lt;up&gt;" {
		t.Errorf("text = %q", text)
	}
}

func TestTelegramNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tg := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "T", ChatID: "1"}).WithAPIBase(srv.URL)
	if err := tg.Send(context.Background(), Notification{Title: "x"}); err == nil {
		t.Fatal("expected error on 400")
	}

	off := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "T"})
	if off.IsEnabled() {
		t.Error("telegram without chat id should be disabled")
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	mn := NewMultiNotifier(config.NotificationConfig{Enabled: true, Webhook: config.WebhookConfig{Enabled: true, URL: srv.URL}})
	err := mn.SendScanSummary(context.Background(), ScanSummary{
		Cycle:   7,
		Checked: 12,
		Intents: []models.SignalRecord{sampleRecord()},
		Equity:  100000,
		DayPnL:  -250,
	})
	if err != nil {
		t.Fatalf("SendScanSummary: %v", err)
	}
	if got["type"] != string(NotificationScan) || got["title"] != "Scan #7" {
		t.Errorf("payload = %v", got)
	}
	msg, _ := got["message"].(string)
	if !strings.Contains(msg, "BUY AAPL 75%") || !strings.Contains(msg, "-$250.00") {
		t.Errorf("message = %q", msg)
	}
}

func TestDailySummaryListsPositions(t *testing.T) {
	mn := NewMultiNotifier(config.NotificationConfig{})
	ch := &recordingChannel{name: "rec", enabled: true}
	mn.AddChannel(ch)

	err := mn.SendDailySummary(context.Background(), DailySummary{
		Date:   "2026-03-02",
		Equity: 101000, Cash: 90000, DayPnL: 1000, DayPnLPercent: 1,
		Positions: []models.Position{
			{Symbol: "MSFT", Quantity: 10, AvgEntryPrice: 100, UnrealizedPL: 50},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	n := ch.sent[0]
	if !strings.HasPrefix(n.Title, "💰 Daily Summary") {
		t.Errorf("title = %q", n.Title)
	}
	if !strings.Contains(n.Message, "MSFT: 10 sh @ $100.00 | P&L: +$50.00 (+5.00%)") {
		t.Errorf("message = %q", n.Message)
	}
}

func TestTerminalNotifierFormatsPlain(t *testing.T) {
	var buf bytes.Buffer
	tn := NewTerminalNotifier(&buf)
	tn.SetColorEnabled(false)

	ts := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)
	if err := tn.Send(context.Background(), Notification{
		Type: NotificationSignal, Title: "BUY AAPL", Message: "line one\nline two", Timestamp: ts,
	}); err != nil {
		t.Fatal(err)
	}
	want := "[10:15:00] SIGNAL | BUY AAPL\n    line one\n    line two\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}

	tn.SetEnabled(false)
	buf.Reset()
	_ = tn.Send(context.Background(), Notification{Title: "x"})
	if buf.Len() != 0 {
		t.Error("disabled terminal notifier wrote output")
	}
}
