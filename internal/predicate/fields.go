package predicate

import (
	"sort"
	"strings"

	"signal-workshop/internal/domain"
)

type Resolution int

const (
	Resolved Resolution = iota
	// Missing: the path is known but the snapshot does not carry it.
	Missing
	// Unrecognised: the path is not a snapshot field or alias.
	Unrecognised
)

type Resolver interface {
	Resolve(path string) (Value, Resolution)
}

// ScoreField is the alias predicates use to read the provisional scenario score.
const ScoreField = "score"

type fieldFunc func(s *domain.MarketSnapshot) (Value, Resolution)

func num(get func(s *domain.MarketSnapshot) float64) fieldFunc {
	return func(s *domain.MarketSnapshot) (Value, Resolution) {
		return Number(get(s)), Resolved
	}
}

func trend(tf domain.Timeframe) fieldFunc {
	return func(s *domain.MarketSnapshot) (Value, Resolution) {
		return String(string(s.Trend(tf))), Resolved
	}
}

func mtfADX(tf domain.Timeframe) fieldFunc {
	return func(s *domain.MarketSnapshot) (Value, Resolution) {
		v, ok := s.MTFADX[tf]
		if !ok {
			return Value{}, Missing
		}
		return Number(v), Resolved
	}
}

func cvd(get func(c *domain.CVD) Value) fieldFunc {
	return func(s *domain.MarketSnapshot) (Value, Resolution) {
		if s.CVD == nil {
			return Value{}, Missing
		}
		return get(s.CVD), Resolved
	}
}

func cluster(get func(c *domain.Clusters) bool) fieldFunc {
	return func(s *domain.MarketSnapshot) (Value, Resolution) {
		if s.Clusters == nil {
			return Value{}, Missing
		}
		return Bool(get(s.Clusters)), Resolved
	}
}

func news(s *domain.MarketSnapshot) (Value, Resolution) {
	if s.NewsSentiment == nil {
		return Value{}, Missing
	}
	return Number(s.NewsSentiment.OverallScore), Resolved
}

var snapshotFields = map[string]fieldFunc{
	"symbol": func(s *domain.MarketSnapshot) (Value, Resolution) {
		return String(s.Symbol), Resolved
	},
	"current_price": num(func(s *domain.MarketSnapshot) float64 { return s.CurrentPrice }),

	"indicators.adx":          num(func(s *domain.MarketSnapshot) float64 { return s.Indicators.ADX }),
	"indicators.rsi":          num(func(s *domain.MarketSnapshot) float64 { return s.Indicators.RSI }),
	"indicators.atr":          num(func(s *domain.MarketSnapshot) float64 { return s.Indicators.ATR }),
	"indicators.volume_ratio": num(func(s *domain.MarketSnapshot) float64 { return s.Indicators.VolumeRatio }),
	"indicators.momentum":     num(func(s *domain.MarketSnapshot) float64 { return s.Indicators.Momentum }),

	"mtf_trends.1h": trend(domain.Timeframe1H),
	"mtf_trends.4h": trend(domain.Timeframe4H),
	"mtf_trends.1d": trend(domain.Timeframe1D),

	"volume_profile.poc":                   num(func(s *domain.MarketSnapshot) float64 { return s.VolumeProfile.POC }),
	"volume_profile.vah":                   num(func(s *domain.MarketSnapshot) float64 { return s.VolumeProfile.VAH }),
	"volume_profile.val":                   num(func(s *domain.MarketSnapshot) float64 { return s.VolumeProfile.VAL }),
	"volume_profile.vwap":                  num(func(s *domain.MarketSnapshot) float64 { return s.VolumeProfile.VWAP }),
	"volume_profile.distance_from_poc_pct": num(func(s *domain.MarketSnapshot) float64 { return s.VolumeProfile.DistanceFromPOCPct }),

	"cvd.value":    cvd(func(c *domain.CVD) Value { return Number(c.Value) }),
	"cvd.confirms": cvd(func(c *domain.CVD) Value { return Bool(c.Confirms) }),

	"clusters.stacked_imbalance_up":   cluster(func(c *domain.Clusters) bool { return c.StackedImbalanceUp }),
	"clusters.stacked_imbalance_down": cluster(func(c *domain.Clusters) bool { return c.StackedImbalanceDown }),
	"clusters.poc_shift_up":           cluster(func(c *domain.Clusters) bool { return c.POCShiftUp }),
	"clusters.poc_shift_down":         cluster(func(c *domain.Clusters) bool { return c.POCShiftDown }),

	"news_sentiment.overall_score": news,

	"trend_alignment": func(s *domain.MarketSnapshot) (Value, Resolution) {
		return String(string(s.Alignment())), Resolved
	},
	"adx_1h": mtfADX(domain.Timeframe1H),
	"adx_4h": mtfADX(domain.Timeframe4H),
	"adx_1d": mtfADX(domain.Timeframe1D),
}

var aliases = map[string]string{
	"price":                 "current_price",
	"adx":                   "indicators.adx",
	"rsi":                   "indicators.rsi",
	"atr":                   "indicators.atr",
	"volume_ratio":          "indicators.volume_ratio",
	"momentum":              "indicators.momentum",
	"trend_1h":              "mtf_trends.1h",
	"trend_4h":              "mtf_trends.4h",
	"trend_1d":              "mtf_trends.1d",
	"poc":                   "volume_profile.poc",
	"vah":                   "volume_profile.vah",
	"val":                   "volume_profile.val",
	"vwap":                  "volume_profile.vwap",
	"distance_from_poc_pct": "volume_profile.distance_from_poc_pct",
	"cvd":                   "cvd.value",
	"cvd_confirms":          "cvd.confirms",
	"news_score":            "news_sentiment.overall_score",
}

func canonical(path string) string {
	path = strings.ToLower(strings.TrimSpace(path))
	if target, ok := aliases[path]; ok {
		return target
	}
	return path
}

// KnownField reports whether path names a snapshot field, an alias, or the score.
func KnownField(path string) bool {
	c := canonical(path)
	if c == ScoreField {
		return true
	}
	_, ok := snapshotFields[c]
	return ok
}

// FieldNames lists every recognised path and alias, sorted.
func FieldNames() []string {
	out := make([]string, 0, len(snapshotFields)+len(aliases)+1)
	for name := range snapshotFields {
		out = append(out, name)
	}
	for name := range aliases {
		out = append(out, name)
	}
	out = append(out, ScoreField)
	sort.Strings(out)
	return out
}

// Suggest returns the recognised name closest to an unknown path, when one is
// within two edits.
func Suggest(path string) (string, bool) {
	path = strings.ToLower(strings.TrimSpace(path))
	best, bestDist := "", 3
	for _, name := range FieldNames() {
		if d := editDistance(path, name); d < bestDist {
			best, bestDist = name, d
		}
	}
	return best, best != ""
}

func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// SnapshotResolver resolves field paths against a frozen snapshot. Score is the
// provisional scenario score; nil leaves the score field missing.
type SnapshotResolver struct {
	Snapshot *domain.MarketSnapshot
	Score    *float64
}

func (r SnapshotResolver) Resolve(path string) (Value, Resolution) {
	c := canonical(path)
	if c == ScoreField {
		if r.Score == nil {
			return Value{}, Missing
		}
		return Number(*r.Score), Resolved
	}
	get, ok := snapshotFields[c]
	if !ok {
		return Value{}, Unrecognised
	}
	if r.Snapshot == nil {
		return Value{}, Missing
	}
	return get(r.Snapshot)
}

// ReadsScore reports whether the expression depends on the scenario score.
func ReadsScore(expr Expr) bool {
	for _, f := range expr.Fields() {
		if canonical(f) == ScoreField {
			return true
		}
	}
	return false
}
