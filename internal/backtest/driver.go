package backtest

import (
	"context"
	"fmt"

	"signal-workshop/internal/domain"
	"signal-workshop/internal/report"
	"signal-workshop/internal/service"
	"signal-workshop/internal/tracker"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	// Warmup is the first candle index evaluated.
	Warmup int
	// Window bounds the history handed to each snapshot. 0 uses everything.
	Window int
}

func DefaultConfig() Config {
	return Config{Warmup: 200, Window: 500}
}

func (c Config) Validate() error {
	if c.Warmup < 1 {
		return fmt.Errorf("backtest warmup must be at least 1, got %d", c.Warmup)
	}
	if c.Window < 0 || (c.Window > 0 && c.Window < c.Warmup) {
		return fmt.Errorf("backtest window must be 0 or >= warmup, got %d", c.Window)
	}
	return nil
}

type Ticker interface {
	ProcessTick(ctx context.Context, symbol string, candles []domain.Candle) (service.TickResult, error)
}

type Canceller interface {
	CancelOpen(ctx context.Context, symbol string, q domain.Quote) ([]tracker.Update, error)
}

type SignalReader interface {
	Get(ctx context.Context, id int64) (domain.Signal, error)
}

// Result is every signal a run opened, in opening order, plus aggregates.
type Result struct {
	Symbol  string
	Candles int
	Trades  []domain.Signal
	Summary report.Summary
}

type Driver struct {
	cfg     Config
	ticker  Ticker
	closer  Canceller
	signals SignalReader
	tracer  trace.Tracer
}

func NewDriver(cfg Config, ticker Ticker, closer Canceller, signals SignalReader, tracer trace.Tracer) *Driver {
	return &Driver{cfg: cfg, ticker: ticker, closer: closer, signals: signals, tracer: tracer}
}

// Run replays candles (oldest first). Each step hands the history up to and
// including the next bar to the ticker, so a signal opened on bar i is first
// tracked against bar i+1. Signals still open at the end are cancelled at
// the last close.
func (d *Driver) Run(ctx context.Context, symbol string, candles []domain.Candle) (Result, error) {
	ctx, span := d.tracer.Start(ctx, "backtest.run")
	defer span.End()

	symbol = domain.NormalizeSymbol(symbol)
	res := Result{Symbol: symbol, Candles: len(candles)}
	if len(candles) <= d.cfg.Warmup {
		return res, fmt.Errorf("backtest needs more than %d candles, got %d: %w", d.cfg.Warmup, len(candles), domain.ErrInsufficientHistory)
	}

	var opened []int64
	for i := d.cfg.Warmup; i < len(candles); i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		from := 0
		if d.cfg.Window > 0 && i+1 > d.cfg.Window {
			from = i + 1 - d.cfg.Window
		}
		tick, err := d.ticker.ProcessTick(ctx, symbol, candles[from:i+1])
		if err != nil {
			return res, fmt.Errorf("candle %d (%s): %w", i, candles[i].OpenTime.Format("2006-01-02T15:04:05Z"), err)
		}
		if tick.Opened != nil {
			opened = append(opened, tick.Opened.ID)
		}
	}

	last := candles[len(candles)-1]
	cancelled, err := d.closer.CancelOpen(ctx, symbol, domain.QuoteFromCandle(last))
	if err != nil {
		return res, fmt.Errorf("cancel open signals: %w", err)
	}
	if len(cancelled) > 0 {
		log.Debug().Str("symbol", symbol).Int("count", len(cancelled)).Msg("cancelled signals still open at end of data")
	}

	for _, id := range opened {
		sig, err := d.signals.Get(ctx, id)
		if err != nil {
			return res, fmt.Errorf("load signal %d: %w", id, err)
		}
		res.Trades = append(res.Trades, sig)
	}
	res.Summary = report.Build(res.Trades, 0)

	log.Info().
		Str("symbol", symbol).
		Int("candles", len(candles)).
		Int("trades", res.Summary.Trades).
		Float64("win_rate", res.Summary.WinRate).
		Msg("backtest finished")
	return res, nil
}
