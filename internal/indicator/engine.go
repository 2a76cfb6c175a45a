package indicator

import (
	"fmt"
	"sort"
	"time"

	"signal-workshop/internal/domain"
)

type Config struct {
	ADXPeriod       int
	RSIPeriod       int
	ATRPeriod       int
	VolumeWindow    int
	MomentumPeriod  int
	ProfileBins     int
	ProfileLookback int
	ValueAreaPct    float64
	CVDWindow       int

	// Trend labelling: bullish when ADX >= TrendMinADX and the close sits more than
	// TrendMargin (fraction) above the mean of the previous TrendLookback closes.
	TrendLookback int
	TrendMargin   float64
	TrendMinADX   float64

	BaseTimeframe time.Duration
}

func DefaultConfig() Config {
	return Config{
		ADXPeriod:       14,
		RSIPeriod:       14,
		ATRPeriod:       14,
		VolumeWindow:    20,
		MomentumPeriod:  10,
		ProfileBins:     50,
		ProfileLookback: 200,
		ValueAreaPct:    0.70,
		CVDWindow:       20,
		TrendLookback:   20,
		TrendMargin:     0.001,
		TrendMinADX:     20,
		BaseTimeframe:   time.Hour,
	}
}

// Engine turns a candle history into a MarketSnapshot. It is pure and safe for concurrent use.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Snapshot computes every snapshot field from candles of the base timeframe. The last
// candle is the evaluated instant. extra carries optional feed microstructure.
func (e *Engine) Snapshot(symbol string, candles []domain.Candle, extra *domain.Microstructure) (domain.MarketSnapshot, error) {
	normalized := normalizeCandles(candles)
	minimum := e.cfg.ADXPeriod + 1
	if e.cfg.ATRPeriod+1 > minimum {
		minimum = e.cfg.ATRPeriod + 1
	}
	if len(normalized) < minimum {
		return domain.MarketSnapshot{}, fmt.Errorf("snapshot %s needs %d candles, got %d: %w", symbol, minimum, len(normalized), domain.ErrInsufficientHistory)
	}

	latest := normalized[len(normalized)-1]
	closes := extractCloses(normalized)
	volumes := extractVolumes(normalized)

	adx, err := ADX(normalized, e.cfg.ADXPeriod)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	atr, err := ATR(normalized, e.cfg.ATRPeriod)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	window := normalized
	if e.cfg.ProfileLookback > 0 && len(window) > e.cfg.ProfileLookback {
		window = window[len(window)-e.cfg.ProfileLookback:]
	}

	snap := domain.MarketSnapshot{
		Symbol:       domain.NormalizeSymbol(symbol),
		Timestamp:    latest.OpenTime.UTC(),
		CurrentPrice: latest.Close,
		Indicators: domain.Indicators{
			ADX:         adx,
			RSI:         RSI(closes, e.cfg.RSIPeriod),
			ATR:         atr,
			VolumeRatio: VolumeRatio(volumes, e.cfg.VolumeWindow),
			Momentum:    Momentum(closes, e.cfg.MomentumPeriod),
		},
		MTFTrends:     make(map[domain.Timeframe]domain.Trend, len(domain.MTFTimeframes)),
		MTFADX:        make(map[domain.Timeframe]float64, len(domain.MTFTimeframes)),
		VolumeProfile: VolumeProfile(window, e.cfg.ProfileBins, e.cfg.ValueAreaPct, latest.Close),
		CVD:           CumulativeDelta(normalized, e.cfg.CVDWindow),
	}
	if extra != nil {
		snap.Clusters = extra.Clusters
		snap.NewsSentiment = extra.NewsSentiment
	}

	for _, tf := range domain.MTFTimeframes {
		series := e.timeframeCandles(normalized, tf)
		trend, tfADX := e.TrendLabel(series)
		snap.MTFTrends[tf] = trend
		snap.MTFADX[tf] = tfADX
	}

	return snap, nil
}

func (e *Engine) timeframeCandles(base []domain.Candle, tf domain.Timeframe) []domain.Candle {
	target := tf.Duration()
	if e.cfg.BaseTimeframe <= 0 || target <= e.cfg.BaseTimeframe {
		return base
	}
	return Resample(base, target)
}

// TrendLabel classifies a single timeframe series. Short series are neutral with the default ADX.
func (e *Engine) TrendLabel(candles []domain.Candle) (domain.Trend, float64) {
	adx, err := ADX(candles, e.cfg.ADXPeriod)
	if err != nil {
		return domain.TrendNeutral, neutralADX
	}
	if adx < e.cfg.TrendMinADX {
		return domain.TrendNeutral, adx
	}

	last := len(candles) - 1
	start := last - e.cfg.TrendLookback
	if start < 0 {
		start = 0
	}
	mean, _ := meanStd(extractCloses(candles[start:last]))
	if mean == 0 {
		return domain.TrendNeutral, adx
	}

	latest := candles[last].Close
	switch {
	case latest > mean*(1+e.cfg.TrendMargin):
		return domain.TrendBullish, adx
	case latest < mean*(1-e.cfg.TrendMargin):
		return domain.TrendBearish, adx
	}
	return domain.TrendNeutral, adx
}

// Resample aggregates candles into buckets of the given width aligned to UTC.
func Resample(candles []domain.Candle, width time.Duration) []domain.Candle {
	out := make([]domain.Candle, 0, len(candles))
	for _, c := range candles {
		bucket := c.OpenTime.UTC().Truncate(width)
		n := len(out)
		if n > 0 && out[n-1].OpenTime.Equal(bucket) {
			agg := &out[n-1]
			if c.High > agg.High {
				agg.High = c.High
			}
			if c.Low < agg.Low {
				agg.Low = c.Low
			}
			agg.Close = c.Close
			agg.Volume += c.Volume
			continue
		}
		out = append(out, domain.Candle{
			Symbol:   c.Symbol,
			Interval: intervalLabel(width),
			OpenTime: bucket,
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
		})
	}
	return out
}

func intervalLabel(width time.Duration) string {
	switch {
	case width%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", width/(24*time.Hour))
	case width%time.Hour == 0:
		return fmt.Sprintf("%dh", width/time.Hour)
	case width%time.Minute == 0:
		return fmt.Sprintf("%dm", width/time.Minute)
	}
	return width.String()
}

func normalizeCandles(in []domain.Candle) []domain.Candle {
	out := make([]domain.Candle, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}
