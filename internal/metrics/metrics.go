package metrics

import (
	"time"

	"signal-workshop/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder publishes matcher and tracker activity. A nil *Recorder is a no-op.
type Recorder struct {
	opened       *prometheus.CounterVec
	closed       *prometheus.CounterVec
	evaluations  *prometheus.CounterVec
	tickDuration *prometheus.HistogramVec
	storeErrors  prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		opened: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workshop_signals_opened_total",
				Help: "Signals inserted by the matcher",
			},
			[]string{"direction", "category"},
		),
		closed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workshop_signals_closed_total",
				Help: "Signals closed by the tracker",
			},
			[]string{"reason"},
		),
		evaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workshop_evaluations_total",
				Help: "Scenario evaluations by resulting category",
			},
			[]string{"category"},
		),
		tickDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workshop_tick_duration_seconds",
				Help:    "Duration of one symbol tick",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"symbol"},
		),
		storeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "workshop_store_errors_total",
			Help: "Signal store calls that failed after retries",
		}),
	}
}

func (r *Recorder) SignalOpened(sig domain.Signal) {
	if r == nil {
		return
	}
	r.opened.WithLabelValues(string(sig.Direction), string(sig.Confidence)).Inc()
}

func (r *Recorder) SignalClosed(reason domain.CloseReason) {
	if r == nil {
		return
	}
	r.closed.WithLabelValues(string(reason)).Inc()
}

func (r *Recorder) Evaluation(category domain.Category) {
	if r == nil {
		return
	}
	r.evaluations.WithLabelValues(string(category)).Inc()
}

func (r *Recorder) TickDuration(symbol string, d time.Duration) {
	if r == nil {
		return
	}
	r.tickDuration.WithLabelValues(symbol).Observe(d.Seconds())
}

func (r *Recorder) StoreError() {
	if r == nil {
		return
	}
	r.storeErrors.Inc()
}
