// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"consensus-trader/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "consensus-trader", "logs", "trader.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if cfg.File && cfg.FilePath != "" {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// ContextKey is the type for context keys.
type ContextKey string

const (
	// LoggerKey is the context key for the logger.
	LoggerKey ContextKey = "logger"
	// CycleKey is the context key for the scan cycle number.
	CycleKey ContextKey = "cycle"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithComponent adds a component name to the logger context.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithStrategy adds a strategy identifier to the logger context.
func WithStrategy(logger zerolog.Logger, id models.StrategyID) zerolog.Logger {
	return logger.With().Str("strategy", string(id)).Logger()
}

// LogSignal logs a single producer output at debug level.
func LogSignal(logger zerolog.Logger, symbol string, sig models.StrategySignal) {
	logger.Debug().
		Str("event", "signal").
		Str("symbol", symbol).
		Str("strategy", string(sig.StrategyID)).
		Str("direction", string(sig.Direction)).
		Float64("strength", sig.Strength).
		Strs("evidence", sig.Evidence).
		Msg("Strategy signal")
}

// LogDecision logs a consensus decision.
func LogDecision(logger zerolog.Logger, d models.ConsensusDecision) {
	logger.Info().
		Str("event", "decision").
		Str("symbol", d.Symbol).
		Str("direction", string(d.Direction)).
		Int("agree_count", d.AgreeCount).
		Float64("confidence", d.Confidence).
		Float64("price", d.Price).
		Msg("Consensus decision")
}

// LogIntent logs an authorized execution intent.
func LogIntent(logger zerolog.Logger, in models.ExecutionIntent) {
	logger.Info().
		Str("event", "intent").
		Str("intent_id", in.ID).
		Str("symbol", in.Symbol).
		Str("direction", string(in.Direction)).
		Float64("entry", in.EntryPrice).
		Float64("stop", in.StopLossPrice).
		Float64("target", in.TakeProfitPrice).
		Float64("size", in.PositionSize).
		Int("quantity", in.Quantity).
		Msg("Execution authorized")
}

// LogSuppressed logs a suppressed signal. Routine NO_CONSENSUS outcomes are
// logged at debug level.
func LogSuppressed(logger zerolog.Logger, s models.SuppressedSignal) {
	event := logger.Info()
	if s.Reason == models.ReasonNoConsensus {
		event = logger.Debug()
	}
	event.
		Str("event", "suppressed").
		Str("symbol", s.Symbol).
		Str("direction", string(s.Direction)).
		Str("reason", string(s.Reason)).
		Str("detail", s.Detail).
		Msg("Signal suppressed")
}

// LogCycle logs the end of a scan cycle.
func LogCycle(logger zerolog.Logger, cycle int64, symbols, intents, suppressed, skipped int, duration time.Duration) {
	logger.Info().
		Str("event", "cycle").
		Int64("cycle", cycle).
		Int("symbols", symbols).
		Int("intents", intents).
		Int("suppressed", suppressed).
		Int("skipped", skipped).
		Dur("duration", duration).
		Msg("Scan cycle complete")
}

// LogOrder logs an order event.
func LogOrder(logger zerolog.Logger, orderID, symbol, side, status string) {
	logger.Info().
		Str("event", "order").
		Str("order_id", orderID).
		Str("symbol", symbol).
		Str("side", side).
		Str("status", status).
		Msg("Order update")
}

// LogAPICall logs an API call.
func LogAPICall(logger zerolog.Logger, method, endpoint string, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "api_call").
		Str("method", method).
		Str("endpoint", endpoint).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("API call failed")
	} else {
		event.Msg("API call completed")
	}
}
