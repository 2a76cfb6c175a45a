package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signal-workshop/internal/domain"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultTimeout = 72 * time.Hour

var nowFunc = time.Now

type Config struct {
	// Timeout closes a signal once a quote arrives this long after it opened.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{Timeout: defaultTimeout}
}

func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("tracker timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

type Store interface {
	ListActive(ctx context.Context, symbol string) ([]domain.Signal, error)
	UpdateTracking(ctx context.Context, id int64, price, roi float64, flags domain.TPFlags) (bool, error)
	Close(ctx context.Context, id int64, closure domain.Closure) (bool, error)
	Get(ctx context.Context, id int64) (domain.Signal, error)
}

// Update is a store mutation the tracker applied.
type Update struct {
	Signal  domain.Signal
	Closure *domain.Closure
}

func (u Update) Closed() bool {
	return u.Closure != nil
}

type Tracker struct {
	store  Store
	cfg    Config
	tracer trace.Tracer
}

func New(store Store, cfg Config, tracer trace.Tracer) *Tracker {
	return &Tracker{store: store, cfg: cfg, tracer: tracer}
}

// Track applies a quote to every active signal of symbol. A failure on one
// signal does not stop the others; the failed row stays active and is
// retried on the next quote.
func (t *Tracker) Track(ctx context.Context, symbol string, q domain.Quote) ([]Update, error) {
	ctx, span := t.tracer.Start(ctx, "tracker.track", trace.WithAttributes(attribute.String("symbol", symbol)))
	defer span.End()

	if t.store == nil {
		return nil, fmt.Errorf("tracker is not fully initialized")
	}

	active, err := t.store.ListActive(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("list active signals for %s: %w", symbol, err)
	}

	var (
		updates []Update
		errs    []error
	)
	for _, sig := range active {
		d := Decide(sig, q, t.cfg.Timeout)
		if d.Skip {
			continue
		}
		if d.Closure != nil {
			u, ok, err := t.close(ctx, sig, *d.Closure)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				updates = append(updates, u)
			}
			continue
		}

		changed, err := t.store.UpdateTracking(ctx, sig.ID, d.Price, d.ROI, d.Flags)
		if err != nil {
			errs = append(errs, fmt.Errorf("update signal %d: %w", sig.ID, err))
			continue
		}
		if !changed {
			continue
		}
		sig.CurrentPrice, sig.CurrentROI, sig.TPFlags = d.Price, d.ROI, d.Flags
		updates = append(updates, Update{Signal: sig})
	}
	return updates, errors.Join(errs...)
}

// Cancel closes a signal at its last observed price.
func (t *Tracker) Cancel(ctx context.Context, id int64) (Update, bool, error) {
	ctx, span := t.tracer.Start(ctx, "tracker.cancel")
	defer span.End()

	if t.store == nil {
		return Update{}, false, fmt.Errorf("tracker is not fully initialized")
	}
	sig, err := t.store.Get(ctx, id)
	if err != nil {
		return Update{}, false, err
	}
	if sig.IsClosed() {
		return Update{Signal: sig}, false, nil
	}
	return t.cancel(ctx, sig, domain.QuoteAt(nowFunc(), sig.CurrentPrice))
}

// CancelOpen closes every active signal of symbol at the quote's close.
func (t *Tracker) CancelOpen(ctx context.Context, symbol string, q domain.Quote) ([]Update, error) {
	ctx, span := t.tracer.Start(ctx, "tracker.cancel-open")
	defer span.End()

	if t.store == nil {
		return nil, fmt.Errorf("tracker is not fully initialized")
	}
	active, err := t.store.ListActive(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("list active signals for %s: %w", symbol, err)
	}
	var (
		updates []Update
		errs    []error
	)
	for _, sig := range active {
		u, ok, err := t.cancel(ctx, sig, q)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			updates = append(updates, u)
		}
	}
	return updates, errors.Join(errs...)
}

func (t *Tracker) cancel(ctx context.Context, sig domain.Signal, q domain.Quote) (Update, bool, error) {
	price := q.Close
	if price <= 0 {
		price = sig.EntryPrice
	}
	roi := sig.ROIAt(price)
	return t.close(ctx, sig, domain.Closure{
		ExitPrice: price,
		FinalROI:  roi,
		Flags:     sig.TPFlags,
		CloseTime: q.Time,
		Reason:    domain.ReasonCancelled,
	})
}

func (t *Tracker) close(ctx context.Context, sig domain.Signal, c domain.Closure) (Update, bool, error) {
	changed, err := t.store.Close(ctx, sig.ID, c)
	if err != nil {
		return Update{}, false, fmt.Errorf("close signal %d: %w", sig.ID, err)
	}
	if !changed {
		log.Debug().Int64("signal_id", sig.ID).Msg("signal already closed, dropping close")
		return Update{}, false, nil
	}

	closeTime := c.CloseTime.UTC()
	exit := c.ExitPrice
	sig.Status = domain.StatusClosed
	sig.TPFlags = sig.TPFlags.Merge(c.Flags)
	sig.CurrentPrice = c.ExitPrice
	sig.CurrentROI = c.FinalROI
	sig.CloseTime = &closeTime
	sig.ExitPrice = &exit
	sig.CloseReason = c.Reason

	log.Info().
		Int64("signal_id", sig.ID).
		Str("symbol", sig.Symbol).
		Str("scenario_id", sig.ScenarioID).
		Str("reason", string(c.Reason)).
		Float64("roi", c.FinalROI).
		Msg("signal closed")
	return Update{Signal: sig, Closure: &c}, true, nil
}
