package job

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"signal-workshop/internal/domain"
	"signal-workshop/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// CandleSource returns the most recent limit bars for a symbol, oldest first.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

type Ticker interface {
	ProcessTick(ctx context.Context, symbol string, candles []domain.Candle) (service.TickResult, error)
}

type CatalogReloader interface {
	Reload() (bool, error)
}

type Config struct {
	Symbols  []string
	Interval string
	Schedule string
	Workers  int
	Lookback int
}

// Runner drives the live loop: every scheduled tick each symbol is handed
// to one worker which runs a full service tick over its latest candles.
type Runner struct {
	tracer   trace.Tracer
	cfg      Config
	source   CandleSource
	ticker   Ticker
	catalogs CatalogReloader
}

func NewRunner(tracer trace.Tracer, cfg Config, source CandleSource, ticker Ticker, catalogs CatalogReloader) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Lookback < 1 {
		cfg.Lookback = 500
	}
	return &Runner{tracer: tracer, cfg: cfg, source: source, ticker: ticker, catalogs: catalogs}
}

// Start runs one tick immediately, then on the configured schedule. Blocks
// until ctx is cancelled and the in-flight tick has finished.
func (r *Runner) Start(ctx context.Context) error {
	if r.source == nil || r.ticker == nil {
		return fmt.Errorf("runner is not fully initialized")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
	if _, err := c.AddFunc(r.cfg.Schedule, func() { r.runLogged(ctx) }); err != nil {
		return fmt.Errorf("register run schedule %q: %w", r.cfg.Schedule, err)
	}

	log.Info().Strs("symbols", r.cfg.Symbols).Str("schedule", r.cfg.Schedule).Int("workers", r.cfg.Workers).Msg("runner starting")
	r.runLogged(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("runner stopped")
	return nil
}

func (r *Runner) runLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := r.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("run tick finished with errors")
	}
}

// RunOnce reloads the catalog if its file changed and processes every
// symbol. A failing symbol does not stop the others; their errors are joined.
func (r *Runner) RunOnce(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "runner.run-once", trace.WithAttributes(attribute.Int("symbols", len(r.cfg.Symbols))))
	defer span.End()

	if r.catalogs != nil {
		changed, err := r.catalogs.Reload()
		switch {
		case err != nil:
			log.Error().Err(err).Msg("catalog reload failed, keeping previous catalog")
		case changed:
			log.Info().Msg("catalog reloaded")
		}
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(r.cfg.Workers)
	for _, symbol := range r.cfg.Symbols {
		symbol := symbol // per-iteration copy; go directive is 1.21 (pre-1.22 loopvar semantics)
		g.Go(func() error {
			if err := r.tick(ctx, symbol); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (r *Runner) tick(ctx context.Context, symbol string) error {
	candles, err := r.source.GetCandles(ctx, symbol, r.cfg.Interval, r.cfg.Lookback)
	if err != nil {
		return fmt.Errorf("load candles: %w", err)
	}
	if len(candles) == 0 {
		log.Debug().Str("symbol", symbol).Msg("no candles yet")
		return nil
	}

	res, err := r.ticker.ProcessTick(ctx, symbol, candles)
	if err != nil {
		return err
	}
	for _, u := range res.Updates {
		if u.Closed() {
			log.Info().Str("symbol", symbol).Int64("signal_id", u.Signal.ID).Str("reason", string(u.Closure.Reason)).Msg("signal closed by tick")
		}
	}
	if res.Opened != nil {
		log.Info().Str("symbol", symbol).Int64("signal_id", res.Opened.ID).Str("scenario_id", res.Opened.ScenarioID).Msg("signal opened by tick")
	}
	return nil
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
