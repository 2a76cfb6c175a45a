package report

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"signal-workshop/internal/domain"
)

func closed(scenario string, roi float64, reason domain.CloseReason, flags domain.TPFlags) domain.Signal {
	return domain.Signal{
		ScenarioID:  scenario,
		Status:      domain.StatusClosed,
		CurrentROI:  roi,
		CloseReason: reason,
		TPFlags:     flags,
	}
}

func sampleSignals() []domain.Signal {
	return []domain.Signal{
		closed("SCN_001", 45, domain.ReasonTP3, domain.TPFlags{TP3: true}),
		closed("SCN_001", -12, domain.ReasonStopLoss, domain.TPFlags{}),
		closed("SCN_016", 22.5, domain.ReasonTP3, domain.TPFlags{TP1: true, TP2: true, TP3: true}),
		closed("SCN_016", -3, domain.ReasonStopLoss, domain.TPFlags{TP1: true}),
		{ScenarioID: "SCN_001", Status: domain.StatusActive, CurrentROI: 99},
	}
}

func TestBuildAggregates(t *testing.T) {
	s := Build(sampleSignals(), 1)

	if s.Trades != 4 || s.Wins != 2 || s.Losses != 2 || s.Open != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.WinRate != 50 {
		t.Fatalf("expected 50%% win rate, got %v", s.WinRate)
	}
	if math.Abs(s.ProfitFactor-67.5/15) > 1e-9 {
		t.Fatalf("unexpected profit factor %v", s.ProfitFactor)
	}
	if s.TotalROI != 52.5 || s.AvgROI != 13.125 {
		t.Fatalf("unexpected roi: total=%v avg=%v", s.TotalROI, s.AvgROI)
	}
	// laddered: a tp3-only flag set counts towards tp1 and tp2
	if s.TP1Rate != 75 || s.TP2Rate != 50 || s.TP3Rate != 50 {
		t.Fatalf("unexpected hit rates: %v %v %v", s.TP1Rate, s.TP2Rate, s.TP3Rate)
	}
	if s.ByReason[domain.ReasonTP3] != 2 || s.ByReason[domain.ReasonStopLoss] != 2 {
		t.Fatalf("unexpected reasons: %v", s.ByReason)
	}
	if len(s.Scenarios) != 2 || s.Scenarios[0].ScenarioID != "SCN_001" || s.Scenarios[1].AvgROI != 9.75 {
		t.Fatalf("unexpected scenario stats: %+v", s.Scenarios)
	}
}

func TestBuildEmpty(t *testing.T) {
	s := Build(nil, 3)
	if s.Trades != 0 || s.WinRate != 0 || s.ProfitFactor != 0 || s.Open != 3 {
		t.Fatalf("unexpected empty summary: %+v", s)
	}
}

func TestBuildWithoutLossesHasZeroProfitFactor(t *testing.T) {
	s := Build([]domain.Signal{closed("SCN_001", 10, domain.ReasonTP3, domain.TPFlags{TP3: true})}, 0)
	if s.ProfitFactor != 0 {
		t.Fatalf("expected 0 profit factor, got %v", s.ProfitFactor)
	}

	var buf bytes.Buffer
	if err := Write(&buf, s); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), "n/a") {
		t.Fatalf("expected n/a profit factor in:\n%s", buf.String())
	}
}

func TestSummaryLine(t *testing.T) {
	got := SummaryLine(Build(sampleSignals(), 0))
	want := "# summary trades=4 wins=2 losses=2 win_rate=50.00 profit_factor=4.50 avg_roi=13.13 total_roi=52.50 tp1_rate=75.00 tp2_rate=50.00 tp3_rate=50.00"
	if got != want {
		t.Fatalf("unexpected summary line:\n got %s\nwant %s", got, want)
	}
}

func TestFixed(t *testing.T) {
	cases := map[float64]string{
		1.005:       "1.01",
		-2.5:        "-2.50",
		0:           "0.00",
		math.NaN():  "0.00",
		math.Inf(1): "0.00",
	}
	for in, want := range cases {
		if got := Fixed(in); got != want {
			t.Fatalf("Fixed(%v) = %s, want %s", in, got, want)
		}
	}
}

func TestWriteListsScenarios(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Build(sampleSignals(), 1)); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"closed trades", "closed by stop_loss", "SCN_016", "win rate"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
