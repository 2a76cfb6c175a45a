package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"signal-workshop/internal/backtest"
	"signal-workshop/internal/indicator"
	"signal-workshop/internal/matcher"
	"signal-workshop/internal/risk"
	"signal-workshop/internal/tracker"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Tunables is the explicit parameter record handed to each component.
type Tunables struct {
	Indicator IndicatorTunables `yaml:"indicator"`
	Matcher   MatcherTunables   `yaml:"matcher"`
	Risk      RiskTunables      `yaml:"risk"`
	Tracker   TrackerTunables   `yaml:"tracker"`
	Backtest  BacktestTunables  `yaml:"backtest"`
	Store     StoreTunables     `yaml:"store"`
}

type IndicatorTunables struct {
	ADXPeriod       int           `yaml:"adx_period" default:"14" validate:"gte=2"`
	RSIPeriod       int           `yaml:"rsi_period" default:"14" validate:"gte=2"`
	ATRPeriod       int           `yaml:"atr_period" default:"14" validate:"gte=1"`
	VolumeWindow    int           `yaml:"volume_window" default:"20" validate:"gte=1"`
	MomentumPeriod  int           `yaml:"momentum_period" default:"10" validate:"gte=1"`
	ProfileBins     int           `yaml:"profile_bins" default:"50" validate:"gte=2"`
	ProfileLookback int           `yaml:"profile_lookback" default:"200" validate:"gte=1"`
	ValueAreaPct    float64       `yaml:"value_area_pct" default:"0.70" validate:"gt=0,lte=1"`
	CVDWindow       int           `yaml:"cvd_window" default:"20" validate:"gte=1"`
	TrendLookback   int           `yaml:"trend_lookback" default:"20" validate:"gte=1"`
	TrendMargin     float64       `yaml:"trend_margin" default:"0.001" validate:"gte=0"`
	TrendMinADX     float64       `yaml:"trend_min_adx" default:"20" validate:"gte=0"`
	BaseTimeframe   time.Duration `yaml:"base_timeframe" default:"1h" validate:"gt=0"`
}

type MatcherTunables struct {
	DealThreshold           float64 `yaml:"deal_threshold" default:"0.70" validate:"lte=1,gtefield=RiskyThreshold"`
	RiskyThreshold          float64 `yaml:"risky_threshold" default:"0.55" validate:"gtefield=ObservationThreshold"`
	ObservationThreshold    float64 `yaml:"observation_threshold" default:"0.35" validate:"gte=0"`
	HighConfidenceThreshold float64 `yaml:"high_confidence_threshold" default:"0.85" validate:"gte=0,lte=1"`
}

type RiskTunables struct {
	SLMult        float64   `yaml:"sl_atr_mult" default:"1.2" validate:"gt=0"`
	TPMult        float64   `yaml:"tp_atr_mult" default:"4.5" validate:"gt=0"`
	ATRFloor      float64   `yaml:"atr_floor" default:"0.1" validate:"gte=0"`
	ATRFloorValue float64   `yaml:"atr_floor_value" default:"1.0" validate:"gt=0"`
	TPFractions   []float64 `yaml:"tp_fractions" default:"[0.33,0.66,1.0]" validate:"len=3,dive,gt=0,lte=1"`
}

type TrackerTunables struct {
	Timeout time.Duration `yaml:"timeout" default:"72h" validate:"gt=0"`
}

type BacktestTunables struct {
	Warmup int `yaml:"warmup" default:"200" validate:"gte=1"`
	Window int `yaml:"window" default:"500" validate:"gte=0"`
}

type StoreTunables struct {
	MaxRetries int `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// DefaultTunables returns the record with every default applied.
func DefaultTunables() Tunables {
	var t Tunables
	if err := defaults.Set(&t); err != nil {
		panic(fmt.Sprintf("tunable defaults: %v", err))
	}
	return t
}

// LoadTunables reads path on top of the defaults. An empty path yields the
// defaults.
func LoadTunables(path string) (Tunables, error) {
	t := DefaultTunables()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Tunables{}, fmt.Errorf("read tunables: %w", err)
	}
	return ParseTunables(data)
}

func ParseTunables(data []byte) (Tunables, error) {
	t := DefaultTunables()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tunables{}, fmt.Errorf("parse tunables: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tunables{}, err
	}
	return t, nil
}

func (t Tunables) Validate() error {
	err := validate.Struct(t)
	if err == nil {
		return t.check()
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("invalid tunables: %s", strings.Join(msgs, "; "))
}

// check runs the component validators, which know constraints tags cannot express.
func (t Tunables) check() error {
	if err := t.MatcherConfig().Validate(); err != nil {
		return fmt.Errorf("invalid tunables: %w", err)
	}
	if err := t.RiskConfig().Validate(); err != nil {
		return fmt.Errorf("invalid tunables: %w", err)
	}
	if err := t.TrackerConfig().Validate(); err != nil {
		return fmt.Errorf("invalid tunables: %w", err)
	}
	if err := t.BacktestConfig().Validate(); err != nil {
		return fmt.Errorf("invalid tunables: %w", err)
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "len":
		return fmt.Sprintf("%s must have %s entries", field, fe.Param())
	case "gtefield":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

func (t Tunables) IndicatorConfig() indicator.Config {
	i := t.Indicator
	return indicator.Config{
		ADXPeriod:       i.ADXPeriod,
		RSIPeriod:       i.RSIPeriod,
		ATRPeriod:       i.ATRPeriod,
		VolumeWindow:    i.VolumeWindow,
		MomentumPeriod:  i.MomentumPeriod,
		ProfileBins:     i.ProfileBins,
		ProfileLookback: i.ProfileLookback,
		ValueAreaPct:    i.ValueAreaPct,
		CVDWindow:       i.CVDWindow,
		TrendLookback:   i.TrendLookback,
		TrendMargin:     i.TrendMargin,
		TrendMinADX:     i.TrendMinADX,
		BaseTimeframe:   i.BaseTimeframe,
	}
}

func (t Tunables) MatcherConfig() matcher.Config {
	m := t.Matcher
	return matcher.Config{Thresholds: matcher.Thresholds{
		Deal:           m.DealThreshold,
		Risky:          m.RiskyThreshold,
		Observation:    m.ObservationThreshold,
		HighConfidence: m.HighConfidenceThreshold,
	}}
}

func (t Tunables) RiskConfig() risk.Config {
	r := t.Risk
	cfg := risk.Config{
		SLMult:        r.SLMult,
		TPMult:        r.TPMult,
		ATRFloor:      r.ATRFloor,
		ATRFloorValue: r.ATRFloorValue,
	}
	copy(cfg.TPFractions[:], r.TPFractions)
	return cfg
}

func (t Tunables) TrackerConfig() tracker.Config {
	return tracker.Config{Timeout: t.Tracker.Timeout}
}

func (t Tunables) BacktestConfig() backtest.Config {
	return backtest.Config{Warmup: t.Backtest.Warmup, Window: t.Backtest.Window}
}
