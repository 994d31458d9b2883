package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"consensus-trader/internal/errors"
	"consensus-trader/internal/models"
	"consensus-trader/internal/performance"
	"consensus-trader/internal/store"
)

var validate = validator.New()

// Response is the envelope of every API answer.
type Response struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// FieldError describes one rejected request parameter.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func respond(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, Response{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

type handler struct {
	engine Engine
	store  store.Store
	logger zerolog.Logger
}

func (h *handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/signals", h.Signals)
	g.GET("/decisions", h.Decisions)
	g.GET("/performance", h.Performance)
	g.POST("/evaluate/:symbol", h.Evaluate)
	g.POST("/pause", h.Pause)
	g.POST("/resume", h.Resume)
}

// bind reads query and path parameters into req, applies default tags and
// validates it. The returned slice is nil on success.
func bind(c echo.Context, req interface{}) []FieldError {
	if err := c.Bind(req); err != nil {
		return []FieldError{{Code: "ERR_BIND", Message: err.Error()}}
	}
	if err := defaults.Set(req); err != nil {
		return []FieldError{{Code: "ERR_DEFAULTS", Message: err.Error()}}
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []FieldError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
		}
		out := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, FieldError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   strings.ToLower(fe.Field()),
				Message: fe.Error(),
			})
		}
		return out
	}
	return nil
}

func (h *handler) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, errors.ErrSymbolBusy):
		return respond(c, http.StatusConflict, err.Error())
	case errors.Is(err, errors.ErrNotFound), errors.Is(err, errors.ErrInsufficientData):
		return respond(c, http.StatusNotFound, err.Error())
	case errors.IsRetryable(err):
		return respond(c, http.StatusServiceUnavailable, err.Error())
	}
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	return respond(c, http.StatusInternalServerError, nil)
}

func (h *handler) requireStore(c echo.Context) bool {
	if h.store != nil {
		return true
	}
	_ = respond(c, http.StatusServiceUnavailable, "signal store disabled")
	return false
}

// Health answers liveness probes.
func (h *handler) Health(c echo.Context) error {
	return respond(c, http.StatusOK, map[string]string{"status": "ok"})
}

// Status returns the engine status.
func (h *handler) Status(c echo.Context) error {
	return respond(c, http.StatusOK, h.engine.Status())
}

// Pause stops the scanner from starting new cycles.
func (h *handler) Pause(c echo.Context) error {
	if err := h.engine.Pause(c.Request().Context()); err != nil {
		return h.fail(c, err)
	}
	return respond(c, http.StatusOK, map[string]bool{"paused": true})
}

// Resume lets the scanner run again.
func (h *handler) Resume(c echo.Context) error {
	if err := h.engine.Resume(c.Request().Context()); err != nil {
		return h.fail(c, err)
	}
	return respond(c, http.StatusOK, map[string]bool{"paused": false})
}

type signalsRequest struct {
	Symbol    string `query:"symbol" validate:"omitempty,max=12"`
	Direction string `query:"direction" validate:"omitempty,oneof=BUY SELL HOLD"`
	Acted     string `query:"acted" validate:"omitempty,oneof=true false"`
	Since     string `query:"since" validate:"omitempty,datetime=2006-01-02"`
	Limit     int    `query:"limit" default:"50" validate:"gte=1,lte=1000"`
}

// Signals lists the signal log, newest first.
func (h *handler) Signals(c echo.Context) error {
	req := &signalsRequest{}
	if verr := bind(c, req); verr != nil {
		return respond(c, http.StatusBadRequest, verr)
	}
	if !h.requireStore(c) {
		return nil
	}

	filter := store.SignalFilter{
		Symbol:    strings.ToUpper(req.Symbol),
		Direction: models.Direction(req.Direction),
		Limit:     req.Limit,
	}
	if req.Acted != "" {
		acted := req.Acted == "true"
		filter.Acted = &acted
	}
	if req.Since != "" {
		filter.StartDate, _ = time.Parse("2006-01-02", req.Since)
	}

	signals, err := h.store.GetSignals(c.Request().Context(), filter)
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, http.StatusOK, signals)
}

type decisionsRequest struct {
	Symbol   string `query:"symbol" validate:"omitempty,max=12"`
	Approved string `query:"approved" validate:"omitempty,oneof=true false"`
	Limit    int    `query:"limit" default:"50" validate:"gte=1,lte=1000"`
}

// Decisions lists the decision audit trail, newest first.
func (h *handler) Decisions(c echo.Context) error {
	req := &decisionsRequest{}
	if verr := bind(c, req); verr != nil {
		return respond(c, http.StatusBadRequest, verr)
	}
	if !h.requireStore(c) {
		return nil
	}

	filter := store.DecisionFilter{Symbol: strings.ToUpper(req.Symbol), Limit: req.Limit}
	if req.Approved != "" {
		approved := req.Approved == "true"
		filter.Approved = &approved
	}
	decisions, err := h.store.GetDecisions(c.Request().Context(), filter)
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, http.StatusOK, decisions)
}

type performanceRequest struct {
	Symbol string `query:"symbol" validate:"omitempty,max=12"`
	Days   int    `query:"days" default:"30" validate:"gte=1,lte=3650"`
}

// PerformanceReport is the body of /api/performance.
type PerformanceReport struct {
	Since     time.Time                  `json:"since"`
	Stats     performance.TradeStats     `json:"stats"`
	BySymbol  []performance.SymbolPnL    `json:"by_symbol"`
	Snapshots []models.PortfolioSnapshot `json:"snapshots"`
}

// Performance summarizes the trade journal.
func (h *handler) Performance(c echo.Context) error {
	req := &performanceRequest{}
	if verr := bind(c, req); verr != nil {
		return respond(c, http.StatusBadRequest, verr)
	}
	if !h.requireStore(c) {
		return nil
	}

	ctx := c.Request().Context()
	since := time.Now().AddDate(0, 0, -req.Days)
	trades, err := h.store.GetTrades(ctx, store.TradeFilter{Symbol: strings.ToUpper(req.Symbol), StartDate: since})
	if err != nil {
		return h.fail(c, err)
	}
	snaps, err := h.store.GetSnapshots(ctx, 100)
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, http.StatusOK, PerformanceReport{
		Since:     since,
		Stats:     performance.Summarize(trades),
		BySymbol:  performance.BySymbol(trades),
		Snapshots: snaps,
	})
}

type evaluateRequest struct {
	Symbol string `param:"symbol" validate:"required,max=12"`
}

// Evaluate runs a dry evaluation of one symbol. Nothing is persisted or
// dispatched and no cooldown starts.
func (h *handler) Evaluate(c echo.Context) error {
	req := &evaluateRequest{}
	if verr := bind(c, req); verr != nil {
		return respond(c, http.StatusBadRequest, verr)
	}

	ev, err := h.engine.Evaluate(c.Request().Context(), strings.ToUpper(req.Symbol))
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, http.StatusOK, ev)
}
