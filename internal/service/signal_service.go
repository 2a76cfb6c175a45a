package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"signal-workshop/internal/domain"
	"signal-workshop/internal/matcher"
	"signal-workshop/internal/report"
	"signal-workshop/internal/risk"
	"signal-workshop/internal/scenario"
	"signal-workshop/internal/tracker"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type SignalStore interface {
	Insert(ctx context.Context, sig domain.Signal) (domain.Signal, error)
	ListActive(ctx context.Context, symbol string) ([]domain.Signal, error)
	Get(ctx context.Context, id int64) (domain.Signal, error)
	ListClosed(ctx context.Context, since time.Time) ([]domain.Signal, error)
	ListRecent(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
}

type SignalTracker interface {
	Track(ctx context.Context, symbol string, q domain.Quote) ([]tracker.Update, error)
	Cancel(ctx context.Context, id int64) (tracker.Update, bool, error)
}

type SnapshotEngine interface {
	Snapshot(symbol string, candles []domain.Candle, extra *domain.Microstructure) (domain.MarketSnapshot, error)
}

type ScenarioMatcher interface {
	Match(catalog *scenario.Catalog, snap *domain.MarketSnapshot) matcher.Result
}

type RiskSizer interface {
	Size(entry, atr float64, direction domain.SignalDirection) (risk.Levels, error)
}

type CatalogSource interface {
	Catalog() *scenario.Catalog
}

type Recorder interface {
	SignalOpened(sig domain.Signal)
	SignalClosed(reason domain.CloseReason)
	Evaluation(category domain.Category)
	TickDuration(symbol string, d time.Duration)
	StoreError()
}

type TelemetryPublisher interface {
	PublishEvaluation(ctx context.Context, res matcher.Result) error
}

// TickResult describes what one tick did for one symbol.
type TickResult struct {
	Symbol  string
	Updates []tracker.Update
	// Match is nil when the history was too short for a snapshot.
	Match  *matcher.Result
	Opened *domain.Signal
}

type SignalService struct {
	tracer    trace.Tracer
	store     SignalStore
	tracker   SignalTracker
	engine    SnapshotEngine
	matcher   ScenarioMatcher
	sizer     RiskSizer
	catalogs  CatalogSource
	recorder  Recorder
	telemetry TelemetryPublisher
}

func NewSignalService(
	tracer trace.Tracer,
	store SignalStore,
	tracker SignalTracker,
	engine SnapshotEngine,
	matcher ScenarioMatcher,
	sizer RiskSizer,
	catalogs CatalogSource,
) *SignalService {
	return &SignalService{
		tracer:   tracer,
		store:    store,
		tracker:  tracker,
		engine:   engine,
		matcher:  matcher,
		sizer:    sizer,
		catalogs: catalogs,
	}
}

// WithObservers attaches optional metrics and telemetry sinks.
func (s *SignalService) WithObservers(recorder Recorder, telemetry TelemetryPublisher) *SignalService {
	s.recorder = recorder
	s.telemetry = telemetry
	return s
}

// ProcessTick runs one serial cycle for symbol over candles (oldest first):
// the latest bar is fed to the tracker, then the history is matched against
// the catalog and the actionable winner, if any, becomes a new signal.
func (s *SignalService) ProcessTick(ctx context.Context, symbol string, candles []domain.Candle) (TickResult, error) {
	ctx, span := s.tracer.Start(ctx, "signal-service.process-tick", trace.WithAttributes(attribute.String("symbol", symbol)))
	defer span.End()

	if s.store == nil || s.tracker == nil || s.engine == nil || s.matcher == nil || s.sizer == nil || s.catalogs == nil {
		return TickResult{}, fmt.Errorf("signal service is not fully initialized")
	}

	symbol = domain.NormalizeSymbol(symbol)
	result := TickResult{Symbol: symbol}
	if len(candles) == 0 {
		return result, nil
	}
	start := time.Now()
	if s.recorder != nil {
		defer func() { s.recorder.TickDuration(symbol, time.Since(start)) }()
	}

	latest := candles[len(candles)-1]
	updates, err := s.tracker.Track(ctx, symbol, domain.QuoteFromCandle(latest))
	result.Updates = updates
	for _, u := range updates {
		if u.Closed() && s.recorder != nil {
			s.recorder.SignalClosed(u.Closure.Reason)
		}
	}
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			s.storeError()
			return result, fmt.Errorf("track %s: %w", symbol, err)
		}
		log.Warn().Err(err).Str("symbol", symbol).Msg("tracking partially failed")
	}

	snap, err := s.engine.Snapshot(symbol, candles, nil)
	if errors.Is(err, domain.ErrInsufficientHistory) {
		log.Debug().Str("symbol", symbol).Int("candles", len(candles)).Msg("not enough history, skipping evaluation")
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("snapshot %s: %w", symbol, err)
	}

	catalog := s.catalogs.Catalog()
	if catalog == nil {
		return result, fmt.Errorf("no scenario catalog loaded")
	}
	match := s.matcher.Match(catalog, &snap)
	result.Match = &match
	if s.recorder != nil {
		for _, c := range match.Candidates {
			s.recorder.Evaluation(c.Category)
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.PublishEvaluation(ctx, match); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("publish telemetry")
		}
	}

	winner, ok := match.Actionable()
	if !ok {
		return result, nil
	}
	opened, err := s.open(ctx, snap, winner)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			s.storeError()
		}
		return result, err
	}
	result.Opened = opened
	return result, nil
}

func (s *SignalService) open(ctx context.Context, snap domain.MarketSnapshot, winner matcher.Candidate) (*domain.Signal, error) {
	active, err := s.store.ListActive(ctx, snap.Symbol)
	if err != nil {
		return nil, fmt.Errorf("list active signals for %s: %w", snap.Symbol, err)
	}
	for _, sig := range active {
		if sig.ScenarioID == winner.ScenarioID {
			log.Debug().
				Str("symbol", snap.Symbol).
				Str("scenario_id", winner.ScenarioID).
				Int64("signal_id", sig.ID).
				Msg("scenario already has an active signal")
			return nil, nil
		}
	}

	direction := winner.Scenario.Direction()
	levels, err := s.sizer.Size(snap.CurrentPrice, snap.Indicators.ATR, direction)
	if errors.Is(err, domain.ErrDegenerateATR) {
		log.Warn().Err(err).Str("symbol", snap.Symbol).Str("scenario_id", winner.ScenarioID).Msg("suppressing signal")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sig := domain.Signal{
		Symbol:        snap.Symbol,
		Direction:     direction,
		ScenarioID:    winner.ScenarioID,
		ScenarioScore: winner.Score,
		Confidence:    winner.Category,
		Timestamp:     snap.Timestamp,
	}
	levels.Apply(&sig)

	inserted, err := s.store.Insert(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("insert signal for %s: %w", snap.Symbol, err)
	}
	if s.recorder != nil {
		s.recorder.SignalOpened(inserted)
	}
	log.Info().
		Int64("signal_id", inserted.ID).
		Str("symbol", inserted.Symbol).
		Str("direction", string(inserted.Direction)).
		Str("scenario_id", inserted.ScenarioID).
		Str("category", string(inserted.Confidence)).
		Float64("score", inserted.ScenarioScore).
		Float64("entry", inserted.EntryPrice).
		Msg("signal opened")
	return &inserted, nil
}

func (s *SignalService) storeError() {
	if s.recorder != nil {
		s.recorder.StoreError()
	}
}

func (s *SignalService) ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "signal-service.list-signals")
	defer span.End()

	if s.store == nil {
		return nil, fmt.Errorf("signal service is not fully initialized")
	}

	filter.Symbol = domain.NormalizeSymbol(filter.Symbol)
	filter.Status = domain.SignalStatus(strings.ToLower(strings.TrimSpace(string(filter.Status))))
	if filter.Status != "" && filter.Status != domain.StatusActive && filter.Status != domain.StatusClosed {
		return nil, fmt.Errorf("invalid status: %s", filter.Status)
	}
	if filter.Direction != "" {
		direction, ok := domain.ParseDirection(string(filter.Direction))
		if !ok {
			return nil, fmt.Errorf("invalid direction: %s", filter.Direction)
		}
		filter.Direction = direction
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return s.store.ListRecent(ctx, filter)
}

func (s *SignalService) GetSignal(ctx context.Context, id int64) (domain.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "signal-service.get-signal")
	defer span.End()

	if id <= 0 {
		return domain.Signal{}, fmt.Errorf("invalid signal id")
	}
	if s.store == nil {
		return domain.Signal{}, fmt.Errorf("signal service is not fully initialized")
	}
	return s.store.Get(ctx, id)
}

// CancelSignal closes an active signal at its last observed price.
func (s *SignalService) CancelSignal(ctx context.Context, id int64) (domain.Signal, bool, error) {
	ctx, span := s.tracer.Start(ctx, "signal-service.cancel-signal")
	defer span.End()

	if id <= 0 {
		return domain.Signal{}, false, fmt.Errorf("invalid signal id")
	}
	if s.tracker == nil {
		return domain.Signal{}, false, fmt.Errorf("signal service is not fully initialized")
	}
	u, ok, err := s.tracker.Cancel(ctx, id)
	if err != nil {
		return domain.Signal{}, false, err
	}
	if ok && s.recorder != nil {
		s.recorder.SignalClosed(domain.ReasonCancelled)
	}
	return u.Signal, ok, nil
}

// Report aggregates signals closed within the last days (all time when days <= 0).
func (s *SignalService) Report(ctx context.Context, days int) (report.Summary, error) {
	ctx, span := s.tracer.Start(ctx, "signal-service.report")
	defer span.End()

	if s.store == nil {
		return report.Summary{}, fmt.Errorf("signal service is not fully initialized")
	}
	var since time.Time
	if days > 0 {
		since = time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	}
	closed, err := s.store.ListClosed(ctx, since)
	if err != nil {
		return report.Summary{}, fmt.Errorf("list closed signals: %w", err)
	}
	active, err := s.store.ListActive(ctx, "")
	if err != nil {
		return report.Summary{}, fmt.Errorf("list active signals: %w", err)
	}
	return report.Build(closed, len(active)), nil
}
