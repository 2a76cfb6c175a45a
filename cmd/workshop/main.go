package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"

	"signal-workshop/internal/cache"
	"signal-workshop/internal/config"
	"signal-workshop/internal/db"
	"signal-workshop/pkg/logger"
	"signal-workshop/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	exitOK      = 0
	exitFailure = 1
	// exitUnusable is reported by init-db when the store path cannot be opened.
	exitUnusable = 2
)

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	loadTunablesFunc       = config.LoadTunables
	setupLoggerFunc        = logger.Setup
	initTracerFunc         = tracing.InitTracer
	openSQLiteFunc         = db.OpenSQLite
	openPostgresFunc       = db.OpenPostgres
	connectRedisFunc       = cache.Connect
	notifyContextFunc      = ossignal.NotifyContext
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

type command func(ctx context.Context, app *app, args []string) int

var commands = map[string]command{
	"init-db":          cmdInitDB,
	"validate-catalog": cmdValidateCatalog,
	"patch-catalog":    cmdPatchCatalog,
	"backtest":         cmdBacktest,
	"report":           cmdReport,
	"import-candles":   cmdImportCandles,
	"run":              cmdRun,
}

// app carries what every command shares.
type app struct {
	cfg    *config.Config
	tracer trace.Tracer
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	_ = loadEnvFunc()
	cfg := loadConfigFunc()

	if _, err := setupLoggerFunc(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: stderr}); err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return exitFailure
	}

	if len(args) == 0 {
		usage()
		return exitFailure
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage()
		return exitFailure
	}

	ctx := context.Background()
	tp, tracer, err := initTracerFunc(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize tracer")
		return exitFailure
	}
	defer shutdownTracer(ctx, tp)

	return cmd(ctx, &app{cfg: cfg, tracer: tracer}, args[1:])
}

func shutdownTracer(ctx context.Context, tp *sdktrace.TracerProvider) {
	if tp == nil {
		return
	}
	if err := tp.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("error shutting down tracer provider")
	}
}

func usage() {
	names := []string{
		"init-db [--db PATH]",
		"validate-catalog <path>",
		"patch-catalog <path> --scenario ID --set key=value [--set ...]",
		"backtest <ohlcv.csv> <catalog.json> [--out FILE] [--symbol S] [--interval I] [--persist]",
		"report [--days N]",
		"import-candles <ohlcv.csv> --symbol S [--interval I]",
		"run",
	}
	fmt.Fprintf(stderr, "usage: workshop <command>\n\ncommands:\n  %s\n", strings.Join(names, "\n  "))
}

func shutdownSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return notifyContextFunc(ctx, syscall.SIGINT, syscall.SIGTERM)
}
