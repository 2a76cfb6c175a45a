package matcher

import (
	"signal-workshop/internal/domain"
	"signal-workshop/internal/predicate"
	"signal-workshop/internal/scenario"
)

// GroupScore is the outcome of one `if` group.
type GroupScore struct {
	Name      string  `json:"name"`
	Weight    float64 `json:"weight"`
	Satisfied int     `json:"satisfied"`
	Evaluated int     `json:"evaluated"`
	Score     float64 `json:"score"`
	// Available is false when every predicate of the group read an absent field.
	Available bool `json:"available"`
}

// Evaluation is the scored outcome of one scenario against one snapshot.
type Evaluation struct {
	ScenarioID     string          `json:"scenario_id"`
	Score          float64         `json:"score"`
	Category       domain.Category `json:"category"`
	HighConfidence bool            `json:"high_confidence"`
	Gated          bool            `json:"gated"`
	Groups         []GroupScore    `json:"groups"`
}

// Score evaluates one scenario. Groups reading `score` run in a second pass
// against the provisional score of the other groups.
func Score(s *scenario.Scenario, snap *domain.MarketSnapshot) Evaluation {
	eval := Evaluation{ScenarioID: s.ID}
	if !directionAllowed(s, snap) {
		eval.Gated = true
		return eval
	}

	groups := make([]GroupScore, len(s.Conditions))
	exprs := make([][]predicate.Expr, len(s.Conditions))
	deferred := make([]bool, len(s.Conditions))
	for i := range s.Conditions {
		exprs[i] = compiled(&s.Conditions[i])
		for _, e := range exprs[i] {
			if predicate.ReadsScore(e) {
				deferred[i] = true
				break
			}
		}
	}

	first := predicate.SnapshotResolver{Snapshot: snap}
	for i := range s.Conditions {
		if !deferred[i] {
			groups[i] = scoreGroup(s, &s.Conditions[i], exprs[i], first)
		}
	}
	provisional := weightedMean(groups, deferred)

	second := predicate.SnapshotResolver{Snapshot: snap, Score: &provisional}
	for i := range s.Conditions {
		if deferred[i] {
			groups[i] = scoreGroup(s, &s.Conditions[i], exprs[i], second)
		}
	}
	eval.Groups = groups

	contributing := 0
	for _, g := range groups {
		if g.Available && g.Score > 0 {
			contributing++
		}
	}
	if s.Scoring != nil && contributing < s.Scoring.MinMetricsRequired {
		return eval
	}
	eval.Score = clamp(weightedMean(groups, nil))
	return eval
}

// directionAllowed applies the 1H+4H gate: bullish scenarios are ineligible
// under a bearish aggregate, bearish ones under a bullish aggregate.
func directionAllowed(s *scenario.Scenario, snap *domain.MarketSnapshot) bool {
	switch snap.Alignment() {
	case domain.TrendBearish:
		return !s.Bullish()
	case domain.TrendBullish:
		return s.Bullish()
	}
	return true
}

func compiled(g *scenario.Group) []predicate.Expr {
	if len(g.Exprs) == len(g.Predicates) {
		return g.Exprs
	}
	out := make([]predicate.Expr, 0, len(g.Predicates))
	for _, src := range g.Predicates {
		expr, err := predicate.Parse(src)
		if err != nil {
			out = append(out, failed{src: src})
			continue
		}
		out = append(out, expr)
	}
	return out
}

// failed stands in for a predicate that does not compile.
type failed struct{ src string }

func (f failed) Eval(predicate.Resolver) predicate.Outcome { return predicate.Unknown }
func (f failed) Fields() []string                          { return nil }
func (f failed) String() string                            { return f.src }

func scoreGroup(s *scenario.Scenario, g *scenario.Group, exprs []predicate.Expr, r predicate.Resolver) GroupScore {
	gs := GroupScore{Name: g.Name, Weight: 1}
	if s.Scoring != nil {
		if w, ok := s.Scoring.Weights[g.Name]; ok {
			gs.Weight = w
		}
	}
	for _, e := range exprs {
		switch e.Eval(r) {
		case predicate.True:
			gs.Satisfied++
			gs.Evaluated++
		case predicate.False, predicate.Unknown:
			gs.Evaluated++
		}
	}
	if gs.Evaluated > 0 {
		gs.Available = true
		gs.Score = float64(gs.Satisfied) / float64(gs.Evaluated)
	}
	return gs
}

// weightedMean averages available groups; groups flagged in skip are left out.
func weightedMean(groups []GroupScore, skip []bool) float64 {
	var sum, weights float64
	for i, g := range groups {
		if skip != nil && skip[i] {
			continue
		}
		if !g.Available || g.Weight <= 0 {
			continue
		}
		sum += g.Weight * g.Score
		weights += g.Weight
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
