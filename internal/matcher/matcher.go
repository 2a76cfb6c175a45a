package matcher

import (
	"fmt"
	"sort"
	"time"

	"signal-workshop/internal/domain"
	"signal-workshop/internal/scenario"
)

// Thresholds map a score to a category. A scenario's scoring_system
// overrides them field by field.
type Thresholds struct {
	Deal           float64
	Risky          float64
	Observation    float64
	HighConfidence float64
}

type Config struct {
	Thresholds Thresholds
}

func DefaultConfig() Config {
	return Config{Thresholds: Thresholds{
		Deal:           0.70,
		Risky:          0.55,
		Observation:    0.35,
		HighConfidence: 0.85,
	}}
}

func (c Config) Validate() error {
	t := c.Thresholds
	if !(t.Deal >= t.Risky && t.Risky >= t.Observation && t.Observation >= 0 && t.Deal <= 1) {
		return fmt.Errorf("thresholds must satisfy 1 >= deal >= risky >= observation >= 0, got %+v", t)
	}
	return nil
}

// Candidate is a scored scenario in match order.
type Candidate struct {
	Scenario *scenario.Scenario
	// Index is the scenario's position in the catalog.
	Index int
	Evaluation
}

// Result holds every evaluated scenario of one snapshot, best first.
type Result struct {
	Symbol     string
	Timestamp  time.Time
	Candidates []Candidate
}

// Winner is the best non-SKIP candidate.
func (r Result) Winner() (Candidate, bool) {
	for _, c := range r.Candidates {
		if c.Category != domain.CategorySkip {
			return c, true
		}
	}
	return Candidate{}, false
}

// Actionable is the best DEAL or RISKY candidate, the one that becomes a signal.
func (r Result) Actionable() (Candidate, bool) {
	for _, c := range r.Candidates {
		if c.Category.Actionable() {
			return c, true
		}
	}
	return Candidate{}, false
}

// Observations lists OBSERVATION candidates for telemetry.
func (r Result) Observations() []Candidate {
	var out []Candidate
	for _, c := range r.Candidates {
		if c.Category == domain.CategoryObservation {
			out = append(out, c)
		}
	}
	return out
}

type Matcher struct {
	cfg Config
}

func New(cfg Config) *Matcher {
	return &Matcher{cfg: cfg}
}

// Match scores every scenario of the catalog against one frozen snapshot.
func (m *Matcher) Match(catalog *scenario.Catalog, snap *domain.MarketSnapshot) Result {
	res := Result{Symbol: snap.Symbol, Timestamp: snap.Timestamp}
	if catalog == nil {
		return res
	}
	res.Candidates = make([]Candidate, 0, len(catalog.Scenarios))
	for i := range catalog.Scenarios {
		s := &catalog.Scenarios[i]
		eval := Score(s, snap)
		t := m.thresholds(s)
		eval.Category = categorize(eval, t)
		eval.HighConfidence = eval.Score > 0 && eval.Score >= t.HighConfidence
		res.Candidates = append(res.Candidates, Candidate{Scenario: s, Index: i, Evaluation: eval})
	}

	sort.SliceStable(res.Candidates, func(i, j int) bool {
		a, b := res.Candidates[i], res.Candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Category.Rank() != b.Category.Rank() {
			return a.Category.Rank() > b.Category.Rank()
		}
		if a.Scenario.Priority != b.Scenario.Priority {
			return a.Scenario.Priority > b.Scenario.Priority
		}
		return a.Index < b.Index
	})
	return res
}

// thresholds returns the effective thresholds for a scenario.
func (m *Matcher) thresholds(s *scenario.Scenario) Thresholds {
	t := m.cfg.Thresholds
	if s.Scoring == nil {
		return t
	}
	if v := s.Scoring.DealThreshold; v != nil {
		t.Deal = *v
	}
	if v := s.Scoring.RiskyThreshold; v != nil {
		t.Risky = *v
	}
	if v := s.Scoring.ObservationThreshold; v != nil {
		t.Observation = *v
	}
	if v := s.Scoring.HighConfidenceThreshold; v != nil {
		t.HighConfidence = *v
	}
	return t
}

// categorize maps a score to a category. Gated or zero scores are always SKIP.
func categorize(e Evaluation, t Thresholds) domain.Category {
	switch {
	case e.Gated || e.Score <= 0:
		return domain.CategorySkip
	case e.Score >= t.Deal:
		return domain.CategoryDeal
	case e.Score >= t.Risky:
		return domain.CategoryRisky
	case e.Score >= t.Observation:
		return domain.CategoryObservation
	}
	return domain.CategorySkip
}
