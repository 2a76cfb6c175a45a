package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"signal-workshop/internal/cache"
	"signal-workshop/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetSignals returns recent signals, optionally filtered by symbol, status,
// direction and scenario.
func (h *Handler) GetSignals(c *gin.Context) {
	if h.signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-signals")
	defer span.End()

	filter := domain.SignalFilter{
		Symbol:     domain.NormalizeSymbol(c.Query("symbol")),
		Status:     domain.SignalStatus(strings.ToLower(strings.TrimSpace(c.Query("status")))),
		ScenarioID: strings.TrimSpace(c.Query("scenario")),
	}
	if filter.Symbol != "" {
		span.SetAttributes(attribute.String("symbol", filter.Symbol))
	}
	if filter.Status != "" && filter.Status != domain.StatusActive && filter.Status != domain.StatusClosed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be active or closed"})
		return
	}
	if raw := c.Query("direction"); raw != "" {
		direction, ok := domain.ParseDirection(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be long or short"})
			return
		}
		filter.Direction = direction
	}

	limit := 50
	if rawLimit := strings.TrimSpace(c.Query("limit")); rawLimit != "" {
		n, err := strconv.Atoi(rawLimit)
		if err != nil || n <= 0 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}
	filter.Limit = limit

	signals, err := h.signals.ListSignals(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

func (h *Handler) GetSignal(c *gin.Context) {
	if h.signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-signal")
	defer span.End()

	id, ok := signalID(c)
	if !ok {
		return
	}
	sig, err := h.signals.GetSignal(ctx, id)
	if errors.Is(err, domain.ErrSignalNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sig)
}

// CancelSignal closes an active signal at its last price. Cancelling a
// closed signal is a no-op that reports cancelled=false.
func (h *Handler) CancelSignal(c *gin.Context) {
	if h.signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.cancel-signal")
	defer span.End()

	id, ok := signalID(c)
	if !ok {
		return
	}
	sig, cancelled, err := h.signals.CancelSignal(ctx, id)
	if errors.Is(err, domain.ErrSignalNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled, "signal": sig})
}

func (h *Handler) GetReport(c *gin.Context) {
	if h.signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal service unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-report")
	defer span.End()

	days := 0
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a non-negative integer"})
			return
		}
		days = n
	}
	span.SetAttributes(attribute.Int("days", days))

	summary, err := h.signals.Report(ctx, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetEvaluation returns the latest matcher evaluation published for symbol.
func (h *Handler) GetEvaluation(c *gin.Context) {
	if h.telemetry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telemetry unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-evaluation")
	defer span.End()

	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	ev, err := h.telemetry.Latest(ctx, symbol)
	if errors.Is(err, cache.ErrNoTelemetry) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no evaluation for " + symbol})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ev)
}

func signalID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}
