package handler

import (
	"context"
	"net/http"

	"signal-workshop/internal/cache"
	"signal-workshop/internal/domain"
	"signal-workshop/internal/report"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

type SignalAPI interface {
	ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
	GetSignal(ctx context.Context, id int64) (domain.Signal, error)
	CancelSignal(ctx context.Context, id int64) (domain.Signal, bool, error)
	Report(ctx context.Context, days int) (report.Summary, error)
}

type TelemetryReader interface {
	Latest(ctx context.Context, symbol string) (cache.Evaluation, error)
}

type Handler struct {
	tracer    trace.Tracer
	signals   SignalAPI
	telemetry TelemetryReader
	gatherer  prometheus.Gatherer
}

// New builds the HTTP surface. telemetry and gatherer may be nil.
func New(tracer trace.Tracer, signals SignalAPI, telemetry TelemetryReader, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		tracer:    tracer,
		signals:   signals,
		telemetry: telemetry,
		gatherer:  gatherer,
	}
}

// NewRouter returns a gin engine with tracing and CORS middleware and every
// route registered.
func (h *Handler) NewRouter(serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost},
		AllowHeaders:    []string{"Origin", "Content-Type"},
	}))
	r.Use(otelgin.Middleware(serviceName))
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/api/signals", h.GetSignals)
	r.GET("/api/signals/:id", h.GetSignal)
	r.POST("/api/signals/:id/cancel", h.CancelSignal)
	r.GET("/api/report", h.GetReport)
	r.GET("/api/evaluations/:symbol", h.GetEvaluation)
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *Handler) Health(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.health")
	defer span.End()

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
