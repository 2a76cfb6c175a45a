package domain

import (
	"strings"
	"time"
)

type SignalDirection string

const (
	DirectionLong  SignalDirection = "LONG"
	DirectionShort SignalDirection = "SHORT"
)

func (d SignalDirection) IsValid() bool {
	return d == DirectionLong || d == DirectionShort
}

// ParseDirection accepts the catalog side ("long"/"short") as well as the stored form.
func ParseDirection(raw string) (SignalDirection, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LONG":
		return DirectionLong, true
	case "SHORT":
		return DirectionShort, true
	}
	return "", false
}

// Category is the quality grade a scenario score maps to.
type Category string

const (
	CategoryDeal        Category = "DEAL"
	CategoryRisky       Category = "RISKY"
	CategoryObservation Category = "OBSERVATION"
	CategorySkip        Category = "SKIP"
)

// Rank orders categories so that DEAL > RISKY > OBSERVATION > SKIP.
func (c Category) Rank() int {
	switch c {
	case CategoryDeal:
		return 3
	case CategoryRisky:
		return 2
	case CategoryObservation:
		return 1
	}
	return 0
}

// Actionable reports whether a category produces a signal.
func (c Category) Actionable() bool {
	return c == CategoryDeal || c == CategoryRisky
}

type SignalStatus string

const (
	StatusActive SignalStatus = "active"
	StatusClosed SignalStatus = "closed"
)

type CloseReason string

const (
	ReasonStopLoss  CloseReason = "stop_loss"
	ReasonTP3       CloseReason = "tp3"
	ReasonTimeout   CloseReason = "timeout"
	ReasonCancelled CloseReason = "cancelled"
)

// TPFlags are the laddered take-profit hits of a signal. Once set a flag is never cleared.
type TPFlags struct {
	TP1 bool `json:"tp1_hit"`
	TP2 bool `json:"tp2_hit"`
	TP3 bool `json:"tp3_hit"`
}

// Merge returns the union of both flag sets.
func (f TPFlags) Merge(o TPFlags) TPFlags {
	return TPFlags{TP1: f.TP1 || o.TP1, TP2: f.TP2 || o.TP2, TP3: f.TP3 || o.TP3}.Laddered()
}

// Laddered enforces tp3 => tp2 => tp1.
func (f TPFlags) Laddered() TPFlags {
	if f.TP3 {
		f.TP2 = true
	}
	if f.TP2 {
		f.TP1 = true
	}
	return f
}

type Signal struct {
	ID            int64           `json:"id"`
	Symbol        string          `json:"symbol"`
	Direction     SignalDirection `json:"direction"`
	ScenarioID    string          `json:"scenario_id"`
	ScenarioScore float64         `json:"scenario_score"`
	Confidence    Category        `json:"confidence"`

	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TP1Price   float64 `json:"tp1_price"`
	TP2Price   float64 `json:"tp2_price"`
	TP3Price   float64 `json:"tp3_price"`
	RiskReward float64 `json:"risk_reward"`

	Status       SignalStatus `json:"status"`
	TPFlags
	CurrentPrice float64     `json:"current_price"`
	CurrentROI   float64     `json:"current_roi"`
	Timestamp    time.Time   `json:"timestamp"`
	CloseTime    *time.Time  `json:"close_time,omitempty"`
	ExitPrice    *float64    `json:"exit_price,omitempty"`
	CloseReason  CloseReason `json:"close_reason,omitempty"`
}

func (s Signal) IsClosed() bool {
	return s.Status == StatusClosed
}

// ROIAt is the percent return of the signal if exited at price.
func (s Signal) ROIAt(price float64) float64 {
	if s.EntryPrice == 0 {
		return 0
	}
	if s.Direction == DirectionShort {
		return (s.EntryPrice - price) / s.EntryPrice * 100
	}
	return (price - s.EntryPrice) / s.EntryPrice * 100
}

// Levels reports whether SL/entry/TP1-3 are strictly ordered for the direction.
func (s Signal) Levels() bool {
	switch s.Direction {
	case DirectionLong:
		return s.StopLoss < s.EntryPrice && s.EntryPrice < s.TP1Price && s.TP1Price < s.TP2Price && s.TP2Price < s.TP3Price
	case DirectionShort:
		return s.StopLoss > s.EntryPrice && s.EntryPrice > s.TP1Price && s.TP1Price > s.TP2Price && s.TP2Price > s.TP3Price
	}
	return false
}

// Closure is the terminal state written by the tracker.
type Closure struct {
	ExitPrice float64
	FinalROI  float64
	Flags     TPFlags
	CloseTime time.Time
	Reason    CloseReason
}

type SignalFilter struct {
	Symbol     string
	Status     SignalStatus
	Direction  SignalDirection
	ScenarioID string
	Limit      int
}
