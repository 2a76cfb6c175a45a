package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"signal-workshop/internal/domain"
	"signal-workshop/internal/predicate"

	"github.com/go-playground/validator/v10"
)

// Catalog is the parsed `{meta, scenarios}` document. Until a scenario is
// changed through Set, Bytes returns the exact bytes that were parsed.
type Catalog struct {
	Meta      json.RawMessage
	Scenarios []Scenario

	raw   []byte
	doc   object
	dirty bool
}

// ValidationError lists every problem found in a catalog.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("catalog invalid: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return domain.ErrCatalogInvalid
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
}

// Parse decodes a catalog document without validating it.
func Parse(data []byte) (*Catalog, error) {
	doc, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogInvalid, err)
	}
	c := &Catalog{raw: append([]byte(nil), data...), doc: doc}
	if meta, ok := doc.get("meta"); ok {
		c.Meta = meta
	}
	rawScenarios, ok := doc.get("scenarios")
	if !ok {
		return nil, &ValidationError{Problems: []string{"catalog has no scenarios key"}}
	}
	if err := json.Unmarshal(rawScenarios, &c.Scenarios); err != nil {
		return nil, fmt.Errorf("%w: scenarios: %v", domain.ErrCatalogInvalid, err)
	}
	return c, nil
}

// Validate checks structure, id/opinion/side coherence and that every
// predicate compiles. Compiled predicates are stored on the groups. The
// returned warnings name predicate fields no snapshot provides.
func Validate(c *Catalog) ([]string, error) {
	var problems, warnings []string
	seen := make(map[string]bool, len(c.Scenarios))

	for i := range c.Scenarios {
		s := &c.Scenarios[i]
		label := s.ID
		if label == "" {
			label = fmt.Sprintf("scenarios[%d]", i)
		}

		if err := validate.Struct(s); err != nil {
			var fieldErrs validator.ValidationErrors
			if errors.As(err, &fieldErrs) {
				for _, fe := range fieldErrs {
					problems = append(problems, fmt.Sprintf("%s: %s", label, fieldMessage(fe)))
				}
			} else {
				problems = append(problems, fmt.Sprintf("%s: %v", label, err))
			}
		}

		if s.ID != "" {
			if seen[s.ID] {
				problems = append(problems, fmt.Sprintf("%s: duplicate id", label))
			}
			seen[s.ID] = true
		}
		problems = append(problems, coherence(label, s)...)

		if s.Scoring != nil {
			problems = append(problems, thresholdOrder(label, s.Scoring)...)
			for name := range s.Scoring.Weights {
				if !s.hasGroup(name) {
					warnings = append(warnings, fmt.Sprintf("%s: weight for unknown group %q", label, name))
				}
			}
		}

		for gi := range s.Conditions {
			g := &s.Conditions[gi]
			g.Exprs = g.Exprs[:0]
			for _, src := range g.Predicates {
				expr, err := predicate.Parse(src)
				if err != nil {
					problems = append(problems, fmt.Sprintf("%s: if.%s: %v", label, g.Name, err))
					continue
				}
				g.Exprs = append(g.Exprs, expr)
				for _, f := range expr.Fields() {
					if !predicate.KnownField(f) {
						w := fmt.Sprintf("%s: if.%s: unknown field %q evaluates as failed", label, g.Name, f)
						if near, ok := predicate.Suggest(f); ok {
							w += fmt.Sprintf(" (did you mean %q?)", near)
						}
						warnings = append(warnings, w)
					}
				}
			}
		}
	}

	if len(problems) > 0 {
		return warnings, &ValidationError{Problems: problems}
	}
	return warnings, nil
}

// coherence enforces bullish <=> LONG in id <=> side long, mirrored for bearish.
func coherence(label string, s *Scenario) []string {
	if s.ID == "" || s.Opinion == "" {
		return nil
	}
	id := strings.ToUpper(s.ID)
	hasLong := strings.Contains(id, "LONG")
	hasShort := strings.Contains(id, "SHORT")

	var out []string
	switch {
	case hasLong && hasShort:
		out = append(out, fmt.Sprintf("%s: id names both LONG and SHORT", label))
	case s.Opinion == OpinionBullish && !hasLong:
		out = append(out, fmt.Sprintf("%s: opinion bullish requires LONG in id", label))
	case s.Opinion == OpinionBearish && !hasShort:
		out = append(out, fmt.Sprintf("%s: opinion bearish requires SHORT in id", label))
	}
	if s.Side != "" {
		if (s.Side == SideLong) != (s.Opinion == OpinionBullish) {
			out = append(out, fmt.Sprintf("%s: side %s contradicts opinion %s", label, s.Side, s.Opinion))
		}
	}
	return out
}

func thresholdOrder(label string, ss *ScoringSystem) []string {
	var out []string
	check := func(hiName string, hi *float64, loName string, lo *float64) {
		if hi != nil && lo != nil && *hi < *lo {
			out = append(out, fmt.Sprintf("%s: %s %.2f below %s %.2f", label, hiName, *hi, loName, *lo))
		}
	}
	check("deal_threshold", ss.DealThreshold, "risky_threshold", ss.RiskyThreshold)
	check("risky_threshold", ss.RiskyThreshold, "observation_threshold", ss.ObservationThreshold)
	check("deal_threshold", ss.DealThreshold, "observation_threshold", ss.ObservationThreshold)
	return out
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

func (s *Scenario) hasGroup(name string) bool {
	for _, g := range s.Conditions {
		if g.Name == name {
			return true
		}
	}
	return false
}

// Scenario looks a scenario up by id.
func (c *Catalog) Scenario(id string) (*Scenario, bool) {
	for i := range c.Scenarios {
		if c.Scenarios[i].ID == id {
			return &c.Scenarios[i], true
		}
	}
	return nil, false
}

// Set changes one tunable of scenario id and marks the catalog for rewrite.
func (c *Catalog) Set(id, key, value string) error {
	s, ok := c.Scenario(id)
	if !ok {
		return fmt.Errorf("scenario %s not found", id)
	}
	if err := s.Set(key, value); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}
	c.dirty = true
	return nil
}

// Bytes renders the catalog document.
func (c *Catalog) Bytes() ([]byte, error) {
	if !c.dirty && c.raw != nil {
		return c.raw, nil
	}
	doc := append(object(nil), c.doc...)
	scenarios, err := marshal(c.Scenarios)
	if err != nil {
		return nil, err
	}
	doc.set("scenarios", scenarios)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
