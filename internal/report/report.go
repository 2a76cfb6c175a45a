package report

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"

	"signal-workshop/internal/domain"

	"github.com/shopspring/decimal"
)

// Summary aggregates closed signals. Rates are percentages of Trades.
type Summary struct {
	Trades       int                        `json:"trades"`
	Wins         int                        `json:"wins"`
	Losses       int                        `json:"losses"`
	WinRate      float64                    `json:"win_rate"`
	ProfitFactor float64                    `json:"profit_factor"`
	AvgROI       float64                    `json:"avg_roi"`
	TotalROI     float64                    `json:"total_roi"`
	TP1Rate      float64                    `json:"tp1_rate"`
	TP2Rate      float64                    `json:"tp2_rate"`
	TP3Rate      float64                    `json:"tp3_rate"`
	Open         int                        `json:"open"`
	ByReason     map[domain.CloseReason]int `json:"by_reason"`
	Scenarios    []ScenarioStats            `json:"scenarios"`
}

type ScenarioStats struct {
	ScenarioID string  `json:"scenario_id"`
	Trades     int     `json:"trades"`
	Wins       int     `json:"wins"`
	WinRate    float64 `json:"win_rate"`
	AvgROI     float64 `json:"avg_roi"`
}

// Build computes a Summary over the closed signals in signals. open is the
// number of still active signals reported alongside.
//
// ProfitFactor is gross profit over gross loss and is 0 when there is no
// losing trade.
func Build(signals []domain.Signal, open int) Summary {
	s := Summary{Open: open, ByReason: make(map[domain.CloseReason]int)}
	var (
		grossProfit, grossLoss float64
		tp1, tp2, tp3          int
	)
	perScenario := make(map[string]*ScenarioStats)
	for _, sig := range signals {
		if !sig.IsClosed() {
			continue
		}
		roi := sig.CurrentROI
		s.Trades++
		s.TotalROI += roi
		switch {
		case roi > 0:
			s.Wins++
			grossProfit += roi
		case roi < 0:
			s.Losses++
			grossLoss -= roi
		}
		flags := sig.TPFlags.Laddered()
		if flags.TP1 {
			tp1++
		}
		if flags.TP2 {
			tp2++
		}
		if flags.TP3 {
			tp3++
		}
		if sig.CloseReason != "" {
			s.ByReason[sig.CloseReason]++
		}

		st, ok := perScenario[sig.ScenarioID]
		if !ok {
			st = &ScenarioStats{ScenarioID: sig.ScenarioID}
			perScenario[sig.ScenarioID] = st
		}
		st.Trades++
		st.AvgROI += roi
		if roi > 0 {
			st.Wins++
		}
	}
	if s.Trades == 0 {
		return s
	}

	n := float64(s.Trades)
	s.WinRate = float64(s.Wins) / n * 100
	s.AvgROI = s.TotalROI / n
	s.TP1Rate = float64(tp1) / n * 100
	s.TP2Rate = float64(tp2) / n * 100
	s.TP3Rate = float64(tp3) / n * 100
	if grossLoss > 0 {
		s.ProfitFactor = grossProfit / grossLoss
	}

	for _, st := range perScenario {
		st.WinRate = float64(st.Wins) / float64(st.Trades) * 100
		st.AvgROI /= float64(st.Trades)
		s.Scenarios = append(s.Scenarios, *st)
	}
	sort.Slice(s.Scenarios, func(i, j int) bool {
		return s.Scenarios[i].ScenarioID < s.Scenarios[j].ScenarioID
	})
	return s
}

// Fixed renders v with two decimals, rounding half away from zero.
func Fixed(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0.00"
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}

// SummaryLine is the trailing comment line of a backtest CSV.
func SummaryLine(s Summary) string {
	fields := []string{
		fmt.Sprintf("trades=%d", s.Trades),
		fmt.Sprintf("wins=%d", s.Wins),
		fmt.Sprintf("losses=%d", s.Losses),
		"win_rate=" + Fixed(s.WinRate),
		"profit_factor=" + Fixed(s.ProfitFactor),
		"avg_roi=" + Fixed(s.AvgROI),
		"total_roi=" + Fixed(s.TotalROI),
		"tp1_rate=" + Fixed(s.TP1Rate),
		"tp2_rate=" + Fixed(s.TP2Rate),
		"tp3_rate=" + Fixed(s.TP3Rate),
	}
	return "# summary " + strings.Join(fields, " ")
}

// Write prints a human readable report.
func Write(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	pf := Fixed(s.ProfitFactor)
	if s.Losses == 0 && s.Wins > 0 {
		pf = "n/a"
	}
	rows := [][2]string{
		{"closed trades", fmt.Sprintf("%d", s.Trades)},
		{"open signals", fmt.Sprintf("%d", s.Open)},
		{"wins / losses", fmt.Sprintf("%d / %d", s.Wins, s.Losses)},
		{"win rate", Fixed(s.WinRate) + "%"},
		{"profit factor", pf},
		{"avg roi", Fixed(s.AvgROI) + "%"},
		{"total roi", Fixed(s.TotalROI) + "%"},
		{"tp1 hit rate", Fixed(s.TP1Rate) + "%"},
		{"tp2 hit rate", Fixed(s.TP2Rate) + "%"},
		{"tp3 hit rate", Fixed(s.TP3Rate) + "%"},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r[0], r[1])
	}

	reasons := make([]string, 0, len(s.ByReason))
	for reason := range s.ByReason {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(tw, "closed by %s\t%d\n", reason, s.ByReason[domain.CloseReason(reason)])
	}

	if len(s.Scenarios) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "scenario\ttrades\twin rate\tavg roi")
		for _, st := range s.Scenarios {
			fmt.Fprintf(tw, "%s\t%d\t%s%%\t%s%%\n", st.ScenarioID, st.Trades, Fixed(st.WinRate), Fixed(st.AvgROI))
		}
	}
	return tw.Flush()
}
