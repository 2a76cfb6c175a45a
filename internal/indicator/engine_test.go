package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"signal-workshop/internal/domain"
)

func risingCandles(n int) []domain.Candle {
	base := time.Unix(0, 0).UTC()
	candles := make([]domain.Candle, 0, n)
	for i := 0; i < n; i++ {
		px := 100 + float64(i)
		candles = append(candles, domain.Candle{
			Symbol:   "BTC",
			Interval: "1h",
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     px,
			High:     px + 1.5,
			Low:      px - 0.5,
			Close:    px + 1,
			Volume:   100,
		})
	}
	return candles
}

func TestADXInsufficientHistory(t *testing.T) {
	_, err := ADX(risingCandles(10), 14)
	if !errors.Is(err, domain.ErrInsufficientHistory) {
		t.Fatalf("expected insufficient history, got %v", err)
	}
}

func TestADXNeutralDefaultBeforeWarmup(t *testing.T) {
	got, err := ADX(risingCandles(16), 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 25 {
		t.Fatalf("expected neutral default 25, got %f", got)
	}
}

func TestADXStrongTrend(t *testing.T) {
	got, err := ADX(risingCandles(60), 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-100) > 1e-9 {
		t.Fatalf("expected ADX 100 for a one-sided trend, got %f", got)
	}
}

func TestATRConstantRange(t *testing.T) {
	got, err := ATR(risingCandles(30), 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-2) > 1e-9 {
		t.Fatalf("expected ATR 2, got %f", got)
	}
}

func TestRSIOnlyGains(t *testing.T) {
	closes := extractCloses(risingCandles(30))
	if got := RSI(closes, 14); got != 100 {
		t.Fatalf("expected RSI 100, got %f", got)
	}
	if got := RSI(closes[:5], 14); got != 50 {
		t.Fatalf("expected neutral RSI for short history, got %f", got)
	}
}

func TestVolumeRatioAndMomentum(t *testing.T) {
	volumes := []float64{10, 10, 10, 10, 30}
	if got := VolumeRatio(volumes, 20); math.Abs(got-3) > 1e-9 {
		t.Fatalf("expected volume ratio 3, got %f", got)
	}
	closes := []float64{100, 101, 102, 110}
	if got := Momentum(closes, 3); math.Abs(got-10) > 1e-9 {
		t.Fatalf("expected momentum 10%%, got %f", got)
	}
}

func TestVolumeProfileValueArea(t *testing.T) {
	candles := []domain.Candle{
		{Low: 100, High: 110, Close: 105, Volume: 100},
		{Low: 100, High: 101, Close: 100.5, Volume: 1000},
	}
	vp := VolumeProfile(candles, 10, 0.70, 105)

	if math.Abs(vp.POC-100.5) > 1e-9 {
		t.Fatalf("expected POC 100.5, got %f", vp.POC)
	}
	if math.Abs(vp.VAL-100) > 1e-9 || math.Abs(vp.VAH-102) > 1e-9 {
		t.Fatalf("expected value area [100, 102], got [%f, %f]", vp.VAL, vp.VAH)
	}
	if math.Abs(vp.VWAP-111000.0/1100.0) > 1e-9 {
		t.Fatalf("unexpected vwap %f", vp.VWAP)
	}
	wantDist := math.Abs(105-100.5) / 100.5 * 100
	if math.Abs(vp.DistanceFromPOCPct-wantDist) > 1e-9 {
		t.Fatalf("expected distance %f, got %f", wantDist, vp.DistanceFromPOCPct)
	}
}

func TestVolumeProfileFlatRange(t *testing.T) {
	candles := []domain.Candle{{Low: 50, High: 50, Close: 50, Volume: 10}}
	vp := VolumeProfile(candles, 50, 0.70, 50)
	if vp.POC != 50 || vp.VAL != 50 || vp.VAH != 50 || vp.DistanceFromPOCPct != 0 {
		t.Fatalf("unexpected degenerate profile: %+v", vp)
	}
}

func TestResampleAggregatesBuckets(t *testing.T) {
	out := Resample(risingCandles(8), 4*time.Hour)
	if len(out) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(out))
	}
	first := out[0]
	if first.Open != 100 || first.Close != 104 || first.High != 104.5 || first.Low != 99.5 || first.Volume != 400 {
		t.Fatalf("unexpected first bucket: %+v", first)
	}
	if first.Interval != "4h" {
		t.Fatalf("expected 4h interval label, got %s", first.Interval)
	}
}

func TestSnapshotOnRisingSeries(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	candles := risingCandles(250)

	// order must not matter
	reversed := make([]domain.Candle, len(candles))
	for i := range candles {
		reversed[len(candles)-1-i] = candles[i]
	}

	snap, err := engine.Snapshot("btc", reversed, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Symbol != "BTC" {
		t.Fatalf("expected normalized symbol, got %s", snap.Symbol)
	}
	if snap.CurrentPrice != 350 {
		t.Fatalf("expected current price 350, got %f", snap.CurrentPrice)
	}
	if !snap.Timestamp.Equal(candles[len(candles)-1].OpenTime) {
		t.Fatalf("unexpected timestamp %s", snap.Timestamp)
	}
	if snap.Trend(domain.Timeframe1H) != domain.TrendBullish || snap.Trend(domain.Timeframe4H) != domain.TrendBullish {
		t.Fatalf("expected bullish 1H/4H, got %+v", snap.MTFTrends)
	}
	if snap.Trend(domain.Timeframe1D) != domain.TrendNeutral || snap.MTFADX[domain.Timeframe1D] != 25 {
		t.Fatalf("expected neutral daily trend on short history, got %s adx=%f", snap.Trend(domain.Timeframe1D), snap.MTFADX[domain.Timeframe1D])
	}
	if snap.Indicators.ADX < 20 || math.Abs(snap.Indicators.ATR-2) > 1e-9 {
		t.Fatalf("unexpected indicators: %+v", snap.Indicators)
	}
	vp := snap.VolumeProfile
	if !(vp.VAL <= vp.POC && vp.POC <= vp.VAH) {
		t.Fatalf("expected VAL <= POC <= VAH, got %+v", vp)
	}
	if snap.CVD == nil || snap.CVD.Value <= 0 || !snap.CVD.Confirms {
		t.Fatalf("expected confirming positive CVD, got %+v", snap.CVD)
	}
	if snap.Clusters != nil || snap.NewsSentiment != nil {
		t.Fatal("expected optional microstructure to be absent")
	}
}

func TestSnapshotCarriesMicrostructure(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	extra := &domain.Microstructure{
		Clusters:      &domain.Clusters{StackedImbalanceUp: true},
		NewsSentiment: &domain.NewsSentiment{OverallScore: 0.4},
	}
	snap, err := engine.Snapshot("ETH", risingCandles(40), extra)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Clusters == nil || !snap.Clusters.StackedImbalanceUp || snap.NewsSentiment.OverallScore != 0.4 {
		t.Fatalf("expected microstructure on snapshot: %+v", snap)
	}
}

func TestSnapshotInsufficientHistory(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	_, err := engine.Snapshot("BTC", risingCandles(5), nil)
	if !errors.Is(err, domain.ErrInsufficientHistory) {
		t.Fatalf("expected insufficient history, got %v", err)
	}
}
