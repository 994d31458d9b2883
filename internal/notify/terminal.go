package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// TerminalNotifier prints notifications to a terminal.
type TerminalNotifier struct {
	out          io.Writer
	mu           sync.Mutex
	enabled      bool
	bellEnabled  bool
	colorEnabled bool
}

// NewTerminalNotifier creates a TerminalNotifier writing to out, or stdout
// when out is nil.
func NewTerminalNotifier(out io.Writer) *TerminalNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &TerminalNotifier{
		out:          out,
		enabled:      true,
		colorEnabled: !color.NoColor,
	}
}

// SetBellEnabled enables or disables the terminal bell on signals.
func (tn *TerminalNotifier) SetBellEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.bellEnabled = enabled
}

// SetColorEnabled enables or disables colored output.
func (tn *TerminalNotifier) SetColorEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.colorEnabled = enabled
}

// SetEnabled enables or disables the notifier.
func (tn *TerminalNotifier) SetEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.enabled = enabled
}

// Name returns the name of the notifier.
func (tn *TerminalNotifier) Name() string {
	return "terminal"
}

// IsEnabled returns whether the notifier is enabled.
func (tn *TerminalNotifier) IsEnabled() bool {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	return tn.enabled
}

// Send writes the formatted notification.
func (tn *TerminalNotifier) Send(ctx context.Context, n Notification) error {
	tn.mu.Lock()
	defer tn.mu.Unlock()

	if !tn.enabled {
		return nil
	}
	if tn.bellEnabled && n.Type == NotificationSignal {
		fmt.Fprint(tn.out, "\a")
	}
	_, err := fmt.Fprintln(tn.out, FormatNotification(n, tn.colorEnabled))
	return err
}

// FormatNotification formats a notification for terminal display.
func FormatNotification(n Notification, colorEnabled bool) string {
	var indicator string
	var c *color.Color

	switch n.Type {
	case NotificationSignal:
		indicator = "SIGNAL"
		c = color.New(color.FgGreen, color.Bold)
		if strings.Contains(n.Title, "SELL") {
			c = color.New(color.FgRed, color.Bold)
		}
	case NotificationSuppressed:
		indicator = "SUPPRESSED"
		c = color.New(color.FgYellow)
	case NotificationScan:
		indicator = "SCAN"
		c = color.New(color.FgCyan)
	case NotificationSummary:
		indicator = "SUMMARY"
		c = color.New(color.FgMagenta)
	case NotificationError:
		indicator = "ERROR"
		c = color.New(color.FgRed)
	default:
		indicator = "INFO"
		c = color.New(color.FgWhite)
	}
	if colorEnabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}

	var sb strings.Builder
	header := fmt.Sprintf("[%s] %s", n.Timestamp.Format("15:04:05"), indicator)
	sb.WriteString(c.Sprint(header))
	sb.WriteString(" | ")
	sb.WriteString(n.Title)

	for _, line := range strings.Split(n.Message, "\n") {
		if line == "" {
			continue
		}
		sb.WriteString("\n    ")
		sb.WriteString(line)
	}
	return sb.String()
}

var _ NotificationChannel = (*TerminalNotifier)(nil)
