package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"signal-workshop/internal/config"

	"github.com/gin-gonic/gin"
)

const testCatalog = `{"scenarios": [
  {"id": "SCN_001_LONG_MOMENTUM_CORE", "side": "long", "opinion": "bullish",
   "if": {
     "mtf_alignment": ["trend_1h == 'bullish'", "trend_4h != 'bearish'"],
     "trend_strength": ["adx_1h > 15"],
     "momentum": ["momentum > 0", "rsi > 45"]
   },
   "scoring_system": {"deal_threshold": 0.70, "risky_threshold": 0.55,
     "observation_threshold": 0.35, "min_metrics_required": 2}}
]}`

const badCatalog = `{"scenarios": [
  {"id": "SCN_X", "side": "long", "opinion": "bearish",
   "if": {"trend": ["trend_1h == 'bullish'"]},
   "scoring_system": {"min_metrics_required": 1}}
]}`

// stubCLI redirects output and config to the test and returns the captured stdout.
func stubCLI(t *testing.T, cfg *config.Config) *bytes.Buffer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	origLoadEnv, origLoadConfig := loadEnvFunc, loadConfigFunc
	origStdout, origStderr := stdout, stderr
	var out bytes.Buffer
	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config { return cfg }
	stdout, stderr = &out, io.Discard
	t.Cleanup(func() {
		loadEnvFunc, loadConfigFunc = origLoadEnv, origLoadConfig
		stdout, stderr = origStdout, origStderr
	})
	return &out
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		DBPath:         filepath.Join(dir, "signals.db"),
		LogLevel:       "error",
		LogFormat:      "json",
		HTTPAddr:       ":0",
		Symbols:        []string{"BTC"},
		BaseInterval:   "1h",
		RunSchedule:    "@every 1h",
		Workers:        1,
		CandleLookback: 300,
		CatalogPath:    filepath.Join(dir, "scenarios.json"),
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeOHLCV(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,open,high,low,close,volume\n")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		mid := 100 + float64(i)*0.15 + 8*math.Sin(float64(i)/18)
		open := mid - 0.4*math.Cos(float64(i)/3)
		closePrice := mid + 0.4*math.Cos(float64(i)/3)
		fmt.Fprintf(&b, "%s,%.4f,%.4f,%.4f,%.4f,%.2f\n",
			base.Add(time.Duration(i)*time.Hour).Format(time.RFC3339),
			open, math.Max(open, closePrice)+1.2, math.Min(open, closePrice)-1.2, closePrice, 1000.0)
	}
	writeFile(t, path, b.String())
}

func TestUnknownAndMissingCommand(t *testing.T) {
	stubCLI(t, testConfig(t.TempDir()))
	if code := run(nil); code != exitFailure {
		t.Fatalf("expected %d without a command, got %d", exitFailure, code)
	}
	if code := run([]string{"explode"}); code != exitFailure {
		t.Fatalf("expected %d for unknown command, got %d", exitFailure, code)
	}
}

func TestInitDBIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	out := stubCLI(t, cfg)
	writeFile(t, cfg.CatalogPath, testCatalog)

	if code := run([]string{"init-db"}); code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if code := run([]string{"init-db"}); code != exitOK {
		t.Fatalf("expected exit 0 on rerun, got %d", code)
	}
	if _, err := os.Stat(filepath.Join(dir, "signals.db")); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
	if strings.Count(out.String(), "schema ready") != 2 {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestInitDBUnusablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	writeFile(t, blocker, "not a directory")
	cfg := testConfig(dir)
	stubCLI(t, cfg)
	writeFile(t, cfg.CatalogPath, testCatalog)

	if code := run([]string{"init-db", "--db", filepath.Join(blocker, "signals.db")}); code != exitUnusable {
		t.Fatalf("expected exit %d, got %d", exitUnusable, code)
	}
}

func TestInitDBRefusesInvalidCatalog(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	out := stubCLI(t, cfg)

	// thresholds out of order
	writeFile(t, cfg.CatalogPath, `{"scenarios": [
  {"id": "SCN_001_LONG_MOMENTUM_CORE", "side": "long", "opinion": "bullish",
   "if": {"mtf_alignment": ["trend_1h == 'bullish'"]},
   "scoring_system": {"deal_threshold": 0.40, "risky_threshold": 0.55,
     "observation_threshold": 0.35, "min_metrics_required": 1}}
]}`)
	if code := run([]string{"init-db"}); code != exitFailure {
		t.Fatalf("expected exit %d, got %d", exitFailure, code)
	}
	if !strings.Contains(out.String(), "error:") {
		t.Fatalf("expected catalog problems on stdout, got %q", out.String())
	}
	if _, err := os.Stat(cfg.DBPath); !os.IsNotExist(err) {
		t.Fatalf("expected no database file, stat returned %v", err)
	}

	out.Reset()
	writeFile(t, cfg.CatalogPath, badCatalog)
	if code := run([]string{"init-db"}); code != exitFailure {
		t.Fatalf("expected exit %d for incoherent opinion, got %d", exitFailure, code)
	}
	if !strings.Contains(out.String(), "SCN_X") {
		t.Fatalf("expected the offending scenario named, got %q", out.String())
	}
	if _, err := os.Stat(cfg.DBPath); !os.IsNotExist(err) {
		t.Fatalf("expected no database file, stat returned %v", err)
	}
}

func TestValidateCatalog(t *testing.T) {
	dir := t.TempDir()
	out := stubCLI(t, testConfig(dir))
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	writeFile(t, good, testCatalog)
	writeFile(t, bad, badCatalog)

	if code := run([]string{"validate-catalog", good}); code != exitOK {
		t.Fatalf("expected exit 0, got %d (%s)", code, out.String())
	}
	if !strings.Contains(out.String(), "catalog OK: 1 scenarios") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	out.Reset()
	if code := run([]string{"validate-catalog", bad}); code != exitFailure {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out.String(), "error:") || !strings.Contains(out.String(), "SCN_X") {
		t.Fatalf("expected problems on stdout, got %q", out.String())
	}
}

func TestPatchCatalog(t *testing.T) {
	dir := t.TempDir()
	out := stubCLI(t, testConfig(dir))
	path := filepath.Join(dir, "scenarios.json")
	writeFile(t, path, testCatalog)

	code := run([]string{"patch-catalog", path, "--scenario", "SCN_001_LONG_MOMENTUM_CORE", "--set", "deal_threshold=0.8", "--set", "priority=3"})
	if code != exitOK {
		t.Fatalf("expected exit 0, got %d (%s)", code, out.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"deal_threshold": 0.8`) && !strings.Contains(string(data), `"deal_threshold":0.8`) {
		t.Fatalf("expected patched threshold, got %s", data)
	}
	backups, _ := filepath.Glob(path + ".*.bak")
	if len(backups) != 1 {
		t.Fatalf("expected one backup, got %v", backups)
	}

	if code := run([]string{"patch-catalog", path, "--scenario", "SCN_001_LONG_MOMENTUM_CORE", "--set", "colour=blue"}); code != exitFailure {
		t.Fatalf("expected exit 1 for unsupported key, got %d", code)
	}
	if code := run([]string{"patch-catalog", path}); code != exitFailure {
		t.Fatalf("expected usage failure, got %d", code)
	}
}

func TestBacktestWritesCSVAndPersists(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	out := stubCLI(t, cfg)
	ohlcv := filepath.Join(dir, "BTC_1h.csv")
	catalog := filepath.Join(dir, "scenarios.json")
	csvOut := filepath.Join(dir, "trades.csv")
	writeOHLCV(t, ohlcv, 420)
	writeFile(t, catalog, testCatalog)

	if code := run([]string{"backtest", ohlcv, catalog, "--out", csvOut}); code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	data, err := os.ReadFile(csvOut)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if !strings.HasPrefix(lines[0], "id,symbol,direction,scenario_id") || !strings.HasPrefix(lines[len(lines)-1], "# summary trades=") {
		t.Fatalf("unexpected CSV:\n%s", data)
	}
	for _, line := range lines[1 : len(lines)-1] {
		if !strings.Contains(line, ",BTC,") {
			t.Fatalf("expected symbol from file name, got %q", line)
		}
	}
	if _, err := os.Stat(cfg.DBPath); !os.IsNotExist(err) {
		t.Fatalf("expected no persistent store without --persist, got %v", err)
	}

	if code := run([]string{"backtest", "--persist", ohlcv, catalog}); code != exitOK {
		t.Fatalf("expected exit 0 with --persist, got %d", code)
	}
	out.Reset()
	if code := run([]string{"report", "--days", "0"}); code != exitOK {
		t.Fatalf("expected exit 0 from report, got %d", code)
	}
	if !strings.Contains(out.String(), "closed trades") || !strings.Contains(out.String(), "tp1 hit rate") {
		t.Fatalf("unexpected report: %q", out.String())
	}
}

func TestBacktestRejectsInvalidCatalog(t *testing.T) {
	dir := t.TempDir()
	out := stubCLI(t, testConfig(dir))
	ohlcv := filepath.Join(dir, "BTC.csv")
	catalog := filepath.Join(dir, "bad.json")
	writeOHLCV(t, ohlcv, 50)
	writeFile(t, catalog, badCatalog)

	if code := run([]string{"backtest", ohlcv, catalog}); code != exitFailure {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out.String(), "error:") {
		t.Fatalf("expected catalog problems, got %q", out.String())
	}
}

func TestImportCandlesNeedsPostgres(t *testing.T) {
	dir := t.TempDir()
	stubCLI(t, testConfig(dir))
	ohlcv := filepath.Join(dir, "BTC.csv")
	writeOHLCV(t, ohlcv, 5)

	if code := run([]string{"import-candles", ohlcv, "--symbol", "BTC"}); code != exitFailure {
		t.Fatalf("expected exit 1 without DATABASE_URL, got %d", code)
	}
}

func TestRunServesUntilSignalled(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.CandlesDir = dir
	stubCLI(t, cfg)
	writeFile(t, cfg.CatalogPath, testCatalog)
	writeOHLCV(t, filepath.Join(dir, "BTC.csv"), 260)

	origNotify, origStart, origShutdown := notifyContextFunc, startHTTPServerFunc, shutdownHTTPServerFunc
	t.Cleanup(func() {
		notifyContextFunc, startHTTPServerFunc, shutdownHTTPServerFunc = origNotify, origStart, origShutdown
	})

	codes := map[string]int{}
	served := make(chan struct{})
	notifyContextFunc = func(parent context.Context, _ ...os.Signal) (context.Context, context.CancelFunc) {
		// stands in for SIGTERM shortly after start-up
		return context.WithTimeout(parent, 300*time.Millisecond)
	}
	startHTTPServerFunc = func(srv *http.Server) error {
		for _, target := range []string{"/health", "/api/signals?symbol=BTC", "/api/report", "/metrics"} {
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
			codes[target] = w.Code
		}
		close(served)
		return http.ErrServerClosed
	}
	shutdownHTTPServerFunc = func(*http.Server, context.Context) error { return nil }

	if code := run([]string{"run"}); code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	<-served
	if len(codes) != 4 {
		t.Fatalf("expected every route exercised, got %v", codes)
	}
	for target, code := range codes {
		if code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, code)
		}
	}
}

func TestRunRefusesInvalidCatalog(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.CandlesDir = dir
	stubCLI(t, cfg)
	writeFile(t, cfg.CatalogPath, badCatalog)

	if code := run([]string{"run"}); code != exitFailure {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestSymbolFromPath(t *testing.T) {
	cases := map[string]string{
		"/data/btc.csv":       "BTC",
		"eth_1h_2024.csv":     "ETH",
		"data/SOL-hourly.csv": "SOL",
	}
	for in, want := range cases {
		if got := symbolFromPath(in); got != want {
			t.Fatalf("%s: expected %s, got %s", in, want, got)
		}
	}
}
