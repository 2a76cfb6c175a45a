package domain

import (
	"strings"
	"time"
)

type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Bullish reports whether the bar closed above its open.
func (c Candle) Bullish() bool {
	return c.Close > c.Open
}

// Bearish reports whether the bar closed below its open.
func (c Candle) Bearish() bool {
	return c.Close < c.Open
}

type Timeframe string

const (
	Timeframe1H Timeframe = "1H"
	Timeframe4H Timeframe = "4H"
	Timeframe1D Timeframe = "1D"
)

var MTFTimeframes = []Timeframe{Timeframe1H, Timeframe4H, Timeframe1D}

func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1H:
		return time.Hour
	case Timeframe4H:
		return 4 * time.Hour
	case Timeframe1D:
		return 24 * time.Hour
	}
	return 0
}

type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

type Indicators struct {
	ADX         float64 `json:"adx"`
	RSI         float64 `json:"rsi"`
	ATR         float64 `json:"atr"`
	VolumeRatio float64 `json:"volume_ratio"`
	Momentum    float64 `json:"momentum"`
}

type VolumeProfile struct {
	POC                float64 `json:"poc"`
	VAH                float64 `json:"vah"`
	VAL                float64 `json:"val"`
	VWAP               float64 `json:"vwap"`
	DistanceFromPOCPct float64 `json:"distance_from_poc_pct"`
}

type CVD struct {
	Value    float64 `json:"value"`
	Confirms bool    `json:"confirms"`
}

type Clusters struct {
	StackedImbalanceUp   bool `json:"stacked_imbalance_up"`
	StackedImbalanceDown bool `json:"stacked_imbalance_down"`
	POCShiftUp           bool `json:"poc_shift_up"`
	POCShiftDown         bool `json:"poc_shift_down"`
}

type NewsSentiment struct {
	OverallScore float64 `json:"overall_score"`
}

// Microstructure carries the optional feed-provided fields of a snapshot.
type Microstructure struct {
	Clusters      *Clusters
	NewsSentiment *NewsSentiment
}

// MarketSnapshot is the frozen market state one evaluation runs against.
type MarketSnapshot struct {
	Symbol        string                `json:"symbol"`
	Timestamp     time.Time             `json:"timestamp"`
	CurrentPrice  float64               `json:"current_price"`
	Indicators    Indicators            `json:"indicators"`
	MTFTrends     map[Timeframe]Trend   `json:"mtf_trends"`
	MTFADX        map[Timeframe]float64 `json:"mtf_adx"`
	VolumeProfile VolumeProfile         `json:"volume_profile"`
	CVD           *CVD                  `json:"cvd,omitempty"`
	Clusters      *Clusters             `json:"clusters,omitempty"`
	NewsSentiment *NewsSentiment        `json:"news_sentiment,omitempty"`
}

func (s MarketSnapshot) Trend(tf Timeframe) Trend {
	if t, ok := s.MTFTrends[tf]; ok && t != "" {
		return t
	}
	return TrendNeutral
}

// Alignment aggregates the 1H and 4H labels: the side with more votes wins, ties are neutral.
func (s MarketSnapshot) Alignment() Trend {
	bull, bear := 0, 0
	for _, tf := range []Timeframe{Timeframe1H, Timeframe4H} {
		switch s.Trend(tf) {
		case TrendBullish:
			bull++
		case TrendBearish:
			bear++
		}
	}
	switch {
	case bull > bear:
		return TrendBullish
	case bear > bull:
		return TrendBearish
	}
	return TrendNeutral
}

// Quote is a price observation fed to the tracker. A live tick is a bar with O=H=L=C.
type Quote struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

func QuoteFromCandle(c Candle) Quote {
	return Quote{Time: c.OpenTime, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close}
}

func QuoteAt(t time.Time, price float64) Quote {
	return Quote{Time: t, Open: price, High: price, Low: price, Close: price}
}

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
