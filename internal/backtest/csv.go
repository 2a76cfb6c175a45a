package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"signal-workshop/internal/domain"
	"signal-workshop/internal/report"

	"github.com/shopspring/decimal"
)

var tradeColumns = []string{
	"id", "symbol", "direction", "scenario_id", "category", "score",
	"open_time", "close_time", "entry_price", "exit_price",
	"stop_loss", "tp1_price", "tp2_price", "tp3_price",
	"reason", "roi_pct", "tp1_hit", "tp2_hit", "tp3_hit",
}

// WriteCSV writes one row per trade followed by the summary comment line.
func WriteCSV(w io.Writer, res Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeColumns); err != nil {
		return err
	}
	for _, sig := range res.Trades {
		if err := cw.Write(tradeRow(sig)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, report.SummaryLine(res.Summary))
	return err
}

func tradeRow(sig domain.Signal) []string {
	closeTime, exit := "", ""
	if sig.CloseTime != nil {
		closeTime = sig.CloseTime.UTC().Format(time.RFC3339)
	}
	if sig.ExitPrice != nil {
		exit = price(*sig.ExitPrice)
	}
	return []string{
		strconv.FormatInt(sig.ID, 10),
		sig.Symbol,
		string(sig.Direction),
		sig.ScenarioID,
		string(sig.Confidence),
		decimal.NewFromFloat(sig.ScenarioScore).StringFixed(4),
		sig.Timestamp.UTC().Format(time.RFC3339),
		closeTime,
		price(sig.EntryPrice),
		exit,
		price(sig.StopLoss),
		price(sig.TP1Price),
		price(sig.TP2Price),
		price(sig.TP3Price),
		string(sig.CloseReason),
		report.Fixed(sig.CurrentROI),
		flag(sig.TP1),
		flag(sig.TP2),
		flag(sig.TP3),
	}
}

func price(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
