package matcher

import (
	"math"
	"testing"
	"time"

	"signal-workshop/internal/domain"
	"signal-workshop/internal/scenario"
)

const coreCatalog = `{"scenarios": [
  {"id": "SCN_001_LONG_MOMENTUM_CORE", "side": "long", "opinion": "bullish",
   "if": {
     "mtf_alignment": ["trend_1h == 'bullish'", "trend_4h != 'bearish'"],
     "trend_strength": ["adx_1h > 20"],
     "confidence_threshold": ["score >= 0.55"]
   },
   "scoring_system": {"deal_threshold": 0.70, "risky_threshold": 0.55,
     "observation_threshold": 0.35, "min_metrics_required": 2}},
  {"id": "SCN_016_SHORT_PULLBACK", "side": "short", "opinion": "bearish",
   "if": {
     "mtf_alignment": ["trend_1h == 'bearish'", "trend_4h != 'bullish'"],
     "trend_strength": ["adx_1h >= 25"]
   },
   "scoring_system": {"min_metrics_required": 2}}
]}`

func mustCatalog(t *testing.T, doc string) *scenario.Catalog {
	t.Helper()
	c, err := scenario.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	if _, err := scenario.Validate(c); err != nil {
		t.Fatalf("validate catalog: %v", err)
	}
	return c
}

func snapshot(h1, h4 domain.Trend, adx1h float64) *domain.MarketSnapshot {
	return &domain.MarketSnapshot{
		Symbol:       "BTC",
		Timestamp:    time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC),
		CurrentPrice: 100,
		Indicators:   domain.Indicators{ADX: adx1h, RSI: 61, ATR: 10, VolumeRatio: 1.2},
		MTFTrends: map[domain.Timeframe]domain.Trend{
			domain.Timeframe1H: h1,
			domain.Timeframe4H: h4,
			domain.Timeframe1D: domain.TrendNeutral,
		},
		MTFADX:        map[domain.Timeframe]float64{domain.Timeframe1H: adx1h, domain.Timeframe4H: adx1h},
		VolumeProfile: domain.VolumeProfile{POC: 98, VAH: 103, VAL: 95, VWAP: 99},
	}
}

func TestMatchLongMomentum(t *testing.T) {
	m := New(DefaultConfig())
	res := m.Match(mustCatalog(t, coreCatalog), snapshot(domain.TrendBullish, domain.TrendBullish, 32))

	winner, ok := res.Actionable()
	if !ok {
		t.Fatal("expected an actionable candidate")
	}
	if winner.ScenarioID != "SCN_001_LONG_MOMENTUM_CORE" || winner.Category != domain.CategoryDeal || winner.Score < 0.70 {
		t.Fatalf("unexpected winner: %+v", winner.Evaluation)
	}
	if winner.Scenario.Direction() != domain.DirectionLong {
		t.Fatal("expected bullish scenario to emit LONG")
	}
	if !winner.HighConfidence {
		t.Fatal("expected a perfect score to be high confidence")
	}

	short := res.Candidates[1]
	if !short.Gated || short.Category != domain.CategorySkip || short.Score != 0 {
		t.Fatalf("expected bearish scenario to be gated, got %+v", short.Evaluation)
	}
}

func TestMatchShortPullback(t *testing.T) {
	m := New(DefaultConfig())
	res := m.Match(mustCatalog(t, coreCatalog), snapshot(domain.TrendBearish, domain.TrendNeutral, 25))

	winner, ok := res.Actionable()
	if !ok || winner.ScenarioID != "SCN_016_SHORT_PULLBACK" {
		t.Fatalf("expected SHORT pullback to win, got %+v", res.Candidates)
	}
	if winner.Category != domain.CategoryDeal || winner.Scenario.Direction() != domain.DirectionShort {
		t.Fatalf("unexpected winner: %+v", winner.Evaluation)
	}
	for _, c := range res.Candidates {
		if c.ScenarioID == "SCN_001_LONG_MOMENTUM_CORE" && !c.Gated {
			t.Fatal("expected bullish scenario to be gated under bearish alignment")
		}
	}
}

func TestNeutralAlignmentLetsBothSidesScore(t *testing.T) {
	m := New(DefaultConfig())
	res := m.Match(mustCatalog(t, coreCatalog), snapshot(domain.TrendBullish, domain.TrendBearish, 30))
	for _, c := range res.Candidates {
		if c.Gated {
			t.Fatalf("expected no gate under neutral alignment: %+v", c.Evaluation)
		}
	}
}

func TestAbsentFieldsLeaveTheDenominator(t *testing.T) {
	doc := `{"scenarios": [{"id": "SCN_002_LONG_FLOW", "side": "long", "opinion": "bullish",
	  "if": {
	    "flow": ["cvd_confirms == True", "adx > 20"],
	    "clusters": ["clusters.stacked_imbalance_up == True"],
	    "broken": ["adx > 20", "orderbook.spread < 0.1"]
	  },
	  "scoring_system": {"min_metrics_required": 2}}]}`
	c := mustCatalog(t, doc)
	eval := Score(&c.Scenarios[0], snapshot(domain.TrendBullish, domain.TrendBullish, 30))

	flow, clusters, broken := eval.Groups[0], eval.Groups[1], eval.Groups[2]
	if flow.Evaluated != 1 || flow.Score != 1 {
		t.Fatalf("expected absent cvd to be dropped from the group, got %+v", flow)
	}
	if clusters.Available {
		t.Fatalf("expected all-absent group to be unavailable, got %+v", clusters)
	}
	if broken.Evaluated != 2 || broken.Score != 0.5 {
		t.Fatalf("expected unknown field to count as failed, got %+v", broken)
	}
	if math.Abs(eval.Score-0.75) > 1e-9 {
		t.Fatalf("expected score 0.75, got %f", eval.Score)
	}
}

func TestMinMetricsRequired(t *testing.T) {
	doc := `{"scenarios": [{"id": "SCN_003_LONG_STRICT", "side": "long", "opinion": "bullish",
	  "if": {"a": ["adx > 20"], "b": ["rsi > 80"], "c": ["news_score > 0"]},
	  "scoring_system": {"min_metrics_required": 2}}]}`
	m := New(DefaultConfig())
	res := m.Match(mustCatalog(t, doc), snapshot(domain.TrendBullish, domain.TrendBullish, 30))
	got := res.Candidates[0]
	if got.Score != 0 || got.Category != domain.CategorySkip {
		t.Fatalf("expected zero score below min metrics, got %+v", got.Evaluation)
	}
	if _, ok := res.Winner(); ok {
		t.Fatal("expected no winner")
	}
}

func TestScoreGroupUsesProvisionalScore(t *testing.T) {
	doc := `{"scenarios": [
	  {"id": "SCN_004_LONG_HIGH_BAR", "side": "long", "opinion": "bullish",
	   "if": {"base": ["adx > 20", "rsi > 70"], "confidence_threshold": ["score >= 0.55"]},
	   "scoring_system": {}},
	  {"id": "SCN_005_LONG_LOW_BAR", "side": "long", "opinion": "bullish",
	   "if": {"base": ["adx > 20", "rsi > 70"], "confidence_threshold": ["score >= 0.4"]},
	   "scoring_system": {}}
	]}`
	m := New(DefaultConfig())
	res := m.Match(mustCatalog(t, doc), snapshot(domain.TrendBullish, domain.TrendBullish, 30))

	first := res.Candidates[0]
	if first.ScenarioID != "SCN_005_LONG_LOW_BAR" || math.Abs(first.Score-0.75) > 1e-9 || first.Category != domain.CategoryDeal {
		t.Fatalf("unexpected first candidate: %+v", first.Evaluation)
	}
	second := res.Candidates[1]
	if math.Abs(second.Score-0.25) > 1e-9 || second.Category != domain.CategorySkip {
		t.Fatalf("unexpected second candidate: %+v", second.Evaluation)
	}
}

func TestWeightsAndThresholdOverrides(t *testing.T) {
	doc := `{"scenarios": [{"id": "SCN_006_LONG_WEIGHTED", "side": "long", "opinion": "bullish",
	  "if": {"trend": ["trend_1h == 'bullish'"], "momentum": ["rsi > 70"]},
	  "scoring_system": {"weights": {"trend": 3, "momentum": 1}, "deal_threshold": 0.8}}]}`
	m := New(DefaultConfig())
	res := m.Match(mustCatalog(t, doc), snapshot(domain.TrendBullish, domain.TrendBullish, 30))
	got := res.Candidates[0]
	if math.Abs(got.Score-0.75) > 1e-9 {
		t.Fatalf("expected weighted score 0.75, got %f", got.Score)
	}
	if got.Category != domain.CategoryRisky {
		t.Fatalf("expected RISKY under overridden deal threshold, got %s", got.Category)
	}
}

func TestTieBreakByPriorityThenCatalogOrder(t *testing.T) {
	doc := `{"scenarios": [
	  {"id": "SCN_010_LONG_A", "side": "long", "opinion": "bullish", "if": {"g": ["adx > 20"]}, "scoring_system": {}},
	  {"id": "SCN_011_LONG_B", "side": "long", "opinion": "bullish", "priority": 3, "if": {"g": ["adx > 20"]}, "scoring_system": {}},
	  {"id": "SCN_012_LONG_C", "side": "long", "opinion": "bullish", "if": {"g": ["adx > 20"]}, "scoring_system": {}}
	]}`
	m := New(DefaultConfig())
	res := m.Match(mustCatalog(t, doc), snapshot(domain.TrendBullish, domain.TrendBullish, 30))
	order := []string{}
	for _, c := range res.Candidates {
		order = append(order, c.ScenarioID)
	}
	want := []string{"SCN_011_LONG_B", "SCN_010_LONG_A", "SCN_012_LONG_C"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestObservationSurfacesWithoutSignal(t *testing.T) {
	doc := `{"scenarios": [{"id": "SCN_007_LONG_WATCH", "side": "long", "opinion": "bullish",
	  "if": {"g": ["adx > 20", "rsi > 70"]}, "scoring_system": {}}]}`
	m := New(DefaultConfig())
	res := m.Match(mustCatalog(t, doc), snapshot(domain.TrendBullish, domain.TrendBullish, 30))
	if _, ok := res.Actionable(); ok {
		t.Fatal("expected no actionable candidate")
	}
	winner, ok := res.Winner()
	if !ok || winner.Category != domain.CategoryObservation {
		t.Fatalf("expected OBSERVATION winner, got %+v", winner.Evaluation)
	}
	if len(res.Observations()) != 1 {
		t.Fatalf("expected one observation, got %d", len(res.Observations()))
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected defaults to be valid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Thresholds.Risky = 0.9
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected inverted thresholds to be rejected")
	}
}
