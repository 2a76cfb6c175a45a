package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signal-workshop/internal/cache"
	"signal-workshop/internal/domain"
	"signal-workshop/internal/metrics"
	"signal-workshop/internal/report"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSignalAPI struct {
	signals    map[int64]domain.Signal
	lastFilter domain.SignalFilter
	lastDays   int
	summary    report.Summary
}

func (s *stubSignalAPI) ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	s.lastFilter = filter
	out := make([]domain.Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		out = append(out, sig)
	}
	return out, nil
}

func (s *stubSignalAPI) GetSignal(ctx context.Context, id int64) (domain.Signal, error) {
	sig, ok := s.signals[id]
	if !ok {
		return domain.Signal{}, domain.ErrSignalNotFound
	}
	return sig, nil
}

func (s *stubSignalAPI) CancelSignal(ctx context.Context, id int64) (domain.Signal, bool, error) {
	sig, ok := s.signals[id]
	if !ok {
		return domain.Signal{}, false, domain.ErrSignalNotFound
	}
	if sig.IsClosed() {
		return sig, false, nil
	}
	sig.Status = domain.StatusClosed
	sig.CloseReason = domain.ReasonCancelled
	s.signals[id] = sig
	return sig, true, nil
}

func (s *stubSignalAPI) Report(ctx context.Context, days int) (report.Summary, error) {
	s.lastDays = days
	return s.summary, nil
}

type stubTelemetry struct {
	latest map[string]cache.Evaluation
}

func (s stubTelemetry) Latest(ctx context.Context, symbol string) (cache.Evaluation, error) {
	ev, ok := s.latest[symbol]
	if !ok {
		return cache.Evaluation{}, cache.ErrNoTelemetry
	}
	return ev, nil
}

func newTestHandler(api *stubSignalAPI) (*Handler, *gin.Engine) {
	tracer := trace.NewNoopTracerProvider().Tracer("handler-test")
	reg := prometheus.NewRegistry()
	metrics.New(reg).SignalClosed(domain.ReasonTP3)
	telemetry := stubTelemetry{latest: map[string]cache.Evaluation{
		"BTC": {Symbol: "BTC", Winner: "SCN_001", Category: domain.CategoryDeal},
	}}
	h := New(tracer, api, telemetry, reg)
	return h, h.NewRouter("handler-test")
}

func serve(r http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func testAPI() *stubSignalAPI {
	return &stubSignalAPI{
		signals: map[int64]domain.Signal{
			1: {ID: 1, Symbol: "BTC", Direction: domain.DirectionLong, Status: domain.StatusActive, ScenarioID: "SCN_001", Timestamp: time.Unix(0, 0).UTC()},
			2: {ID: 2, Symbol: "ETH", Direction: domain.DirectionShort, Status: domain.StatusClosed, CloseReason: domain.ReasonStopLoss},
		},
		summary: report.Summary{Trades: 4, Wins: 3, Losses: 1, WinRate: 75},
	}
}

func TestHealth(t *testing.T) {
	_, r := newTestHandler(testAPI())
	w := serve(r, http.MethodGet, "/health")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response: %d %s", w.Code, w.Body.String())
	}
}

func TestGetSignalsAppliesFilter(t *testing.T) {
	api := testAPI()
	_, r := newTestHandler(api)

	w := serve(r, http.MethodGet, "/api/signals?symbol=btc&status=ACTIVE&scenario=SCN_001&limit=5")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if api.lastFilter.Symbol != "BTC" || api.lastFilter.Status != domain.StatusActive || api.lastFilter.ScenarioID != "SCN_001" || api.lastFilter.Limit != 5 {
		t.Fatalf("unexpected filter: %+v", api.lastFilter)
	}

	var resp struct {
		Signals []domain.Signal `json:"signals"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(resp.Signals) != 2 {
		t.Fatalf("unexpected payload: %+v", resp)
	}

	if w := serve(r, http.MethodGet, "/api/signals?direction=short"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if api.lastFilter.Direction != domain.DirectionShort {
		t.Fatalf("expected SHORT direction filter, got %+v", api.lastFilter)
	}
}

func TestGetSignalsRejectsBadQuery(t *testing.T) {
	_, r := newTestHandler(testAPI())
	for _, target := range []string{"/api/signals?status=pending", "/api/signals?limit=0", "/api/signals?limit=500", "/api/signals?direction=sideways"} {
		if w := serve(r, http.MethodGet, target); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, w.Code)
		}
	}
}

func TestGetSignal(t *testing.T) {
	_, r := newTestHandler(testAPI())

	w := serve(r, http.MethodGet, "/api/signals/1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sig domain.Signal
	if err := json.Unmarshal(w.Body.Bytes(), &sig); err != nil || sig.ID != 1 || sig.Symbol != "BTC" {
		t.Fatalf("unexpected signal %+v (%v)", sig, err)
	}

	if w := serve(r, http.MethodGet, "/api/signals/99"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/signals/abc"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCancelSignal(t *testing.T) {
	api := testAPI()
	_, r := newTestHandler(api)

	w := serve(r, http.MethodPost, "/api/signals/1/cancel")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"cancelled":true`) {
		t.Fatalf("unexpected cancel response: %d %s", w.Code, w.Body.String())
	}
	if api.signals[1].CloseReason != domain.ReasonCancelled {
		t.Fatalf("expected signal cancelled, got %+v", api.signals[1])
	}

	w = serve(r, http.MethodPost, "/api/signals/2/cancel")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"cancelled":false`) {
		t.Fatalf("expected no-op for closed signal: %d %s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodPost, "/api/signals/7/cancel"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetReport(t *testing.T) {
	api := testAPI()
	_, r := newTestHandler(api)

	w := serve(r, http.MethodGet, "/api/report?days=7")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if api.lastDays != 7 {
		t.Fatalf("expected days 7, got %d", api.lastDays)
	}
	var summary report.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil || summary.Trades != 4 || summary.WinRate != 75 {
		t.Fatalf("unexpected summary %+v (%v)", summary, err)
	}
	if w := serve(r, http.MethodGet, "/api/report?days=-1"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetEvaluation(t *testing.T) {
	_, r := newTestHandler(testAPI())

	w := serve(r, http.MethodGet, "/api/evaluations/btc")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "SCN_001") {
		t.Fatalf("unexpected evaluation response: %d %s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodGet, "/api/evaluations/SOL"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	_, r := newTestHandler(testAPI())
	w := serve(r, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `workshop_signals_closed_total{reason="tp3"} 1`) {
		t.Fatalf("unexpected metrics output: %d %s", w.Code, w.Body.String())
	}
}

func TestUnavailableWithoutService(t *testing.T) {
	h := New(trace.NewNoopTracerProvider().Tracer("handler-test"), nil, nil, nil)
	r := gin.New()
	h.RegisterRoutes(r)
	for _, target := range []string{"/api/signals", "/api/signals/1", "/api/report", "/api/evaluations/BTC"} {
		if w := serve(r, http.MethodGet, target); w.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", target, w.Code)
		}
	}
}
