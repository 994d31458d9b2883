// Package api serves the engine status, signal log and dry-run evaluations
// over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"consensus-trader/internal/config"
	"consensus-trader/internal/engine"
	"consensus-trader/internal/errors"
	"consensus-trader/internal/logging"
	"consensus-trader/internal/metrics"
	"consensus-trader/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine is the engine surface the API reads from.
type Engine interface {
	Status() engine.Status
	Evaluate(ctx context.Context, symbol string) (*engine.Evaluation, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Server wraps an Echo instance.
type Server struct {
	echo   *echo.Echo
	addr   string
	logger zerolog.Logger
}

// NewServer builds the router. st may be nil, in which case the history
// endpoints answer 503.
func NewServer(cfg config.ServerConfig, eng Engine, st store.Store, logger zerolog.Logger) *Server {
	logger = logging.WithComponent(logger, "api")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}

	e.Use(recoverer(logger))
	e.Use(requestLogger(logger))

	h := &handler{engine: eng, store: st, logger: logger}
	h.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	return &Server{echo: e, addr: cfg.Addr, logger: logger}
}

// Start listens in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("HTTP API listening")
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP API stopped")
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutdown api")
	}
	return nil
}

// Echo returns the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req, res := c.Request(), c.Response()
			logger.Debug().
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Int("status", res.Status).
				Dur("latency", time.Since(start)).
				Msg("HTTP request")
			return nil
		}
	}
}

func recoverer(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("Handler panicked")
					err = respond(c, http.StatusInternalServerError, nil)
				}
			}()
			return next(c)
		}
	}
}

// jsonSerializer encodes responses with jsoniter.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	err := json.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}
