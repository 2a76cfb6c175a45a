package risk

import (
	"fmt"
	"math"

	"signal-workshop/internal/domain"

	"github.com/shopspring/decimal"
)

const pricePlaces = 2

type Config struct {
	SLMult float64
	TPMult float64
	// ATRs below ATRFloor are replaced with ATRFloorValue.
	ATRFloor      float64
	ATRFloorValue float64
	// TPFractions place TP1..TP3 along the reward distance.
	TPFractions [3]float64
}

func DefaultConfig() Config {
	return Config{
		SLMult:        1.2,
		TPMult:        4.5,
		ATRFloor:      0.1,
		ATRFloorValue: 1.0,
		TPFractions:   [3]float64{0.33, 0.66, 1.0},
	}
}

func (c Config) Validate() error {
	if c.SLMult <= 0 || c.TPMult <= 0 {
		return fmt.Errorf("sl/tp multipliers must be positive, got %.4f/%.4f", c.SLMult, c.TPMult)
	}
	if c.ATRFloorValue <= 0 {
		return fmt.Errorf("atr floor value must be positive, got %.4f", c.ATRFloorValue)
	}
	prev := 0.0
	for i, f := range c.TPFractions {
		if f <= prev || f > 1 {
			return fmt.Errorf("tp fractions must increase within (0, 1], got %v at %d", c.TPFractions, i)
		}
		prev = f
	}
	return nil
}

// Levels are the sized prices of a signal, rounded to cents.
type Levels struct {
	Entry      float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TP1        float64 `json:"tp1_price"`
	TP2        float64 `json:"tp2_price"`
	TP3        float64 `json:"tp3_price"`
	RiskReward float64 `json:"risk_reward"`
	// ATR is the value actually used, after the floor.
	ATR float64 `json:"atr"`
}

// Apply copies the levels onto a signal.
func (l Levels) Apply(sig *domain.Signal) {
	sig.EntryPrice = l.Entry
	sig.StopLoss = l.StopLoss
	sig.TP1Price = l.TP1
	sig.TP2Price = l.TP2
	sig.TP3Price = l.TP3
	sig.RiskReward = l.RiskReward
}

type Sizer struct {
	cfg Config
}

func NewSizer(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size derives SL and TP1-3 from entry, ATR and direction:
// SL = entry -/+ SLMult*ATR, TPk = entry +/- fraction_k*TPMult*ATR.
func (s *Sizer) Size(entry, atr float64, direction domain.SignalDirection) (Levels, error) {
	if !direction.IsValid() {
		return Levels{}, fmt.Errorf("unknown direction %q", direction)
	}
	if math.IsNaN(entry) || math.IsInf(entry, 0) || entry <= 0 {
		return Levels{}, fmt.Errorf("%w: entry %.4f", domain.ErrDegenerateATR, entry)
	}
	if math.IsNaN(atr) || math.IsInf(atr, 0) || atr < 0 {
		return Levels{}, fmt.Errorf("%w: atr %.4f", domain.ErrDegenerateATR, atr)
	}
	if atr < s.cfg.ATRFloor {
		atr = s.cfg.ATRFloorValue
	}
	if atr <= 0 {
		return Levels{}, fmt.Errorf("%w: atr %.4f after floor", domain.ErrDegenerateATR, atr)
	}

	e := decimal.NewFromFloat(entry)
	a := decimal.NewFromFloat(atr)
	risk := decimal.NewFromFloat(s.cfg.SLMult).Mul(a)
	reward := decimal.NewFromFloat(s.cfg.TPMult).Mul(a)

	sign := decimal.NewFromInt(1)
	if direction == domain.DirectionShort {
		sign = sign.Neg()
	}
	target := func(fraction float64) decimal.Decimal {
		return e.Add(sign.Mul(reward).Mul(decimal.NewFromFloat(fraction))).Round(pricePlaces)
	}

	entryR := e.Round(pricePlaces)
	sl := e.Sub(sign.Mul(risk)).Round(pricePlaces)
	tp1 := target(s.cfg.TPFractions[0])
	tp2 := target(s.cfg.TPFractions[1])
	tp3 := target(s.cfg.TPFractions[2])

	stopDist := entryR.Sub(sl).Abs()
	if stopDist.IsZero() {
		return Levels{}, fmt.Errorf("%w: stop collapses onto entry", domain.ErrDegenerateATR)
	}
	rr := tp3.Sub(entryR).Abs().Div(stopDist).Round(pricePlaces)

	levels := Levels{
		Entry:      entryR.InexactFloat64(),
		StopLoss:   sl.InexactFloat64(),
		TP1:        tp1.InexactFloat64(),
		TP2:        tp2.InexactFloat64(),
		TP3:        tp3.InexactFloat64(),
		RiskReward: rr.InexactFloat64(),
		ATR:        atr,
	}
	check := domain.Signal{Direction: direction}
	levels.Apply(&check)
	if !check.Levels() {
		return Levels{}, fmt.Errorf("%w: levels not ordered after rounding: %+v", domain.ErrDegenerateATR, levels)
	}
	if direction == domain.DirectionShort && levels.TP3 <= 0 {
		return Levels{}, fmt.Errorf("%w: short target %.2f not positive", domain.ErrDegenerateATR, levels.TP3)
	}
	return levels, nil
}
