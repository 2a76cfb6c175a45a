package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"signal-workshop/internal/domain"
	"signal-workshop/internal/predicate"
)

const (
	SideLong  = "long"
	SideShort = "short"

	OpinionBullish = "bullish"
	OpinionBearish = "bearish"
)

// Scenario is one rule-based setup of the catalog. The decoded document is
// kept alongside the typed view so keys this package does not model are
// written back untouched.
type Scenario struct {
	ID         string         `json:"id" validate:"required"`
	Side       string         `json:"side" validate:"required,oneof=long short"`
	Opinion    string         `json:"opinion" validate:"required,oneof=bullish bearish"`
	Priority   int            `json:"priority,omitempty"`
	Conditions Conditions     `json:"if" validate:"required,min=1,dive"`
	Scoring    *ScoringSystem `json:"scoring_system" validate:"required"`

	raw object
}

type ScoringSystem struct {
	DealThreshold           *float64           `json:"deal_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	RiskyThreshold          *float64           `json:"risky_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	ObservationThreshold    *float64           `json:"observation_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	HighConfidenceThreshold *float64           `json:"high_confidence_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	MinMetricsRequired      int                `json:"min_metrics_required,omitempty" validate:"gte=0"`
	Weights                 map[string]float64 `json:"weights,omitempty" validate:"omitempty,dive,gte=0"`
}

// Group is one named block of the scenario's `if` section.
type Group struct {
	Name       string   `validate:"required"`
	Predicates []string `validate:"min=1"`

	// Exprs holds the compiled predicates once the catalog has been validated.
	Exprs []predicate.Expr `validate:"-"`
}

// Conditions keeps the groups of `if` in authoring order.
type Conditions []Group

func (c *Conditions) UnmarshalJSON(data []byte) error {
	obj, err := decodeObject(data)
	if err != nil {
		return fmt.Errorf("if: %w", err)
	}
	groups := make(Conditions, 0, len(obj))
	for _, m := range obj {
		g := Group{Name: m.Key}
		var single string
		if err := json.Unmarshal(m.Value, &single); err == nil {
			g.Predicates = []string{single}
		} else if err := json.Unmarshal(m.Value, &g.Predicates); err != nil {
			return fmt.Errorf("if.%s: expected string or list of strings", m.Key)
		}
		groups = append(groups, g)
	}
	*c = groups
	return nil
}

func (c Conditions) MarshalJSON() ([]byte, error) {
	obj := make(object, 0, len(c))
	for _, g := range c {
		value, err := marshal(g.Predicates)
		if err != nil {
			return nil, err
		}
		obj = append(obj, member{Key: g.Name, Value: value})
	}
	return obj.MarshalJSON()
}

type scenarioFields Scenario

func (s *Scenario) UnmarshalJSON(data []byte) error {
	obj, err := decodeObject(data)
	if err != nil {
		return err
	}
	var fields scenarioFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*s = Scenario(fields)
	s.raw = obj
	return nil
}

func (s Scenario) MarshalJSON() ([]byte, error) {
	if s.raw != nil {
		return s.raw.MarshalJSON()
	}
	return marshal(scenarioFields(s))
}

// Bullish reports the scenario's directional intent.
func (s Scenario) Bullish() bool {
	return s.Opinion == OpinionBullish
}

// Direction is the signal direction a scenario emits.
func (s Scenario) Direction() domain.SignalDirection {
	if s.Bullish() {
		return domain.DirectionLong
	}
	return domain.DirectionShort
}

var scoringKeys = map[string]bool{
	"deal_threshold":            true,
	"risky_threshold":           true,
	"observation_threshold":     true,
	"high_confidence_threshold": true,
	"min_metrics_required":      false,
}

// Set changes one tunable of the scenario. Supported keys are priority,
// side, opinion and the scoring_system thresholds.
func (s *Scenario) Set(key, value string) error {
	if s.raw == nil {
		data, err := marshal(scenarioFields(*s))
		if err != nil {
			return err
		}
		if s.raw, err = decodeObject(data); err != nil {
			return err
		}
	}

	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	switch {
	case key == "priority":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("priority must be an integer: %q", value)
		}
		s.raw.set(key, json.RawMessage(strconv.Itoa(n)))
	case key == "side" || key == "opinion":
		quoted, err := marshal(strings.ToLower(value))
		if err != nil {
			return err
		}
		s.raw.set(key, quoted)
	default:
		isFloat, ok := scoringKeys[key]
		if !ok {
			return fmt.Errorf("unsupported key %q", key)
		}
		var encoded string
		if isFloat {
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("%s must be a number: %q", key, value)
			}
			encoded = strconv.FormatFloat(f, 'f', -1, 64)
		} else {
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s must be an integer: %q", key, value)
			}
			encoded = strconv.Itoa(n)
		}
		scoring := object{}
		if current, ok := s.raw.get("scoring_system"); ok {
			decoded, err := decodeObject(current)
			if err != nil {
				return fmt.Errorf("scoring_system: %w", err)
			}
			scoring = decoded
		}
		scoring.set(key, json.RawMessage(encoded))
		data, err := scoring.MarshalJSON()
		if err != nil {
			return err
		}
		s.raw.set("scoring_system", data)
	}

	data, err := s.raw.MarshalJSON()
	if err != nil {
		return err
	}
	return s.UnmarshalJSON(data)
}

// marshal encodes without HTML escaping so predicates like "adx < 20" stay readable.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
