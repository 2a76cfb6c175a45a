package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"signal-workshop/internal/backtest"
	"signal-workshop/internal/config"
	"signal-workshop/internal/db"
	"signal-workshop/internal/domain"
	"signal-workshop/internal/indicator"
	"signal-workshop/internal/matcher"
	"signal-workshop/internal/report"
	"signal-workshop/internal/repository"
	"signal-workshop/internal/risk"
	"signal-workshop/internal/scenario"
	"signal-workshop/internal/service"
	"signal-workshop/internal/tracker"

	"github.com/rs/zerolog/log"
)

// parseInterleaved lets flags appear before or after positional arguments.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

type storeHandle struct {
	store  repository.SignalStore
	close  func()
	pgPool repository.PgxPool
}

// openStore opens the Postgres signal store when DATABASE_URL is set and the
// SQLite database at path otherwise.
func openStore(ctx context.Context, a *app, path string) (storeHandle, error) {
	if a.cfg.DatabaseURL != "" {
		pool, err := openPostgresFunc(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return storeHandle{}, err
		}
		return storeHandle{
			store:  repository.NewPgSignalStore(pool, a.tracer),
			close:  pool.Close,
			pgPool: pool,
		}, nil
	}
	conn, err := openSQLiteFunc(ctx, path)
	if err != nil {
		return storeHandle{}, err
	}
	return storeHandle{
		store: repository.NewSQLiteSignalStore(conn, a.tracer),
		close: func() { conn.Close() },
	}, nil
}

func cmdInitDB(ctx context.Context, a *app, args []string) int {
	fs := newFlagSet("init-db")
	path := fs.String("db", a.cfg.DBPath, "SQLite database path (DB_PATH)")
	catalogPath := fs.String("catalog", a.cfg.CatalogPath, "scenario catalog (CATALOG_PATH)")
	if _, err := parseInterleaved(fs, args); err != nil {
		return exitFailure
	}

	// The store is not touched until the catalog it will serve validates.
	if _, _, err := scenario.Load(*catalogPath); err != nil {
		log.Error().Err(err).Str("catalog", *catalogPath).Msg("refusing to initialise store with an invalid catalog")
		printCatalogError(err)
		return exitFailure
	}

	h, err := openStore(ctx, a, *path)
	if err != nil {
		log.Error().Err(err).Str("path", *path).Msg("cannot open signal store")
		return exitUnusable
	}
	defer h.close()

	added, err := h.store.RunMigrations(ctx)
	if err != nil {
		log.Error().Err(err).Msg("signal store migration failed")
		return exitUnusable
	}
	if h.pgPool != nil {
		if err := repository.NewCandleRepository(h.pgPool, a.tracer).RunMigrations(ctx); err != nil {
			log.Error().Err(err).Msg("candle migration failed")
			return exitUnusable
		}
	}

	if len(added) > 0 {
		fmt.Fprintf(stdout, "schema ready, added columns: %s\n", strings.Join(added, ", "))
	} else {
		fmt.Fprintln(stdout, "schema ready")
	}
	return exitOK
}

func cmdValidateCatalog(ctx context.Context, a *app, args []string) int {
	fs := newFlagSet("validate-catalog")
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return exitFailure
	}
	if len(positional) != 1 {
		fmt.Fprintln(stderr, "usage: workshop validate-catalog <path>")
		return exitFailure
	}

	c, warnings, err := scenario.Load(positional[0])
	for _, w := range warnings {
		fmt.Fprintf(stdout, "warning: %s\n", w)
	}
	if err != nil {
		printCatalogError(err)
		return exitFailure
	}
	fmt.Fprintf(stdout, "catalog OK: %d scenarios\n", len(c.Scenarios))
	return exitOK
}

func printCatalogError(err error) {
	var verr *scenario.ValidationError
	if errors.As(err, &verr) {
		for _, p := range verr.Problems {
			fmt.Fprintf(stdout, "error: %s\n", p)
		}
		return
	}
	fmt.Fprintf(stdout, "error: %v\n", err)
}

type assignments []string

func (a *assignments) String() string { return strings.Join(*a, ",") }

func (a *assignments) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	*a = append(*a, v)
	return nil
}

func cmdPatchCatalog(ctx context.Context, a *app, args []string) int {
	fs := newFlagSet("patch-catalog")
	id := fs.String("scenario", "", "scenario id to change")
	var sets assignments
	fs.Var(&sets, "set", "key=value to apply (repeatable)")
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return exitFailure
	}
	if len(positional) != 1 || strings.TrimSpace(*id) == "" || len(sets) == 0 {
		fmt.Fprintln(stderr, "usage: workshop patch-catalog <path> --scenario ID --set key=value [--set ...]")
		return exitFailure
	}

	backup, err := scenario.Update(positional[0], func(c *scenario.Catalog) error {
		for _, kv := range sets {
			key, value, _ := strings.Cut(kv, "=")
			if err := c.Set(*id, key, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		printCatalogError(err)
		return exitFailure
	}
	log.Info().Str("scenario_id", *id).Strs("set", sets).Str("backup", backup).Msg("catalog patched")
	fmt.Fprintf(stdout, "patched %s (backup %s)\n", *id, backup)
	return exitOK
}

func cmdBacktest(ctx context.Context, a *app, args []string) int {
	fs := newFlagSet("backtest")
	out := fs.String("out", "", "CSV output file (stdout when empty)")
	symbol := fs.String("symbol", "", "symbol of the OHLCV file (default: file name)")
	interval := fs.String("interval", a.cfg.BaseInterval, "bar interval of the OHLCV file")
	persist := fs.Bool("persist", false, "write signals to the configured store instead of a throwaway one")
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return exitFailure
	}
	if len(positional) != 2 {
		fmt.Fprintln(stderr, "usage: workshop backtest <ohlcv.csv> <catalog.json> [--out FILE] [--symbol S] [--persist]")
		return exitFailure
	}
	ohlcvPath, catalogPath := positional[0], positional[1]
	if *symbol == "" {
		*symbol = symbolFromPath(ohlcvPath)
	}

	tun, err := loadTunablesFunc(a.cfg.TunablesPath)
	if err != nil {
		log.Error().Err(err).Msg("invalid tunables")
		return exitFailure
	}
	catalog, _, err := scenario.Load(catalogPath)
	if err != nil {
		printCatalogError(err)
		return exitFailure
	}
	candles, err := backtest.LoadOHLCVFile(ohlcvPath, *symbol, *interval)
	if err != nil {
		log.Error().Err(err).Msg("cannot load OHLCV data")
		return exitFailure
	}

	storePath := db.MemoryPath
	if *persist {
		storePath = a.cfg.DBPath
	} else {
		a = &app{cfg: withoutPostgres(a.cfg), tracer: a.tracer}
	}
	h, err := openStore(ctx, a, storePath)
	if err != nil {
		log.Error().Err(err).Msg("cannot open signal store")
		return exitFailure
	}
	defer h.close()
	if _, err := h.store.RunMigrations(ctx); err != nil {
		log.Error().Err(err).Msg("signal store migration failed")
		return exitFailure
	}

	store := repository.NewRetryingStore(h.store, tun.Store.MaxRetries)
	tr := tracker.New(store, tun.TrackerConfig(), a.tracer)
	svc := newPipeline(a, tun, store, tr, staticCatalog{catalog})
	res, err := backtest.NewDriver(tun.BacktestConfig(), svc, tr, store, a.tracer).Run(ctx, *symbol, candles)
	if err != nil {
		log.Error().Err(err).Msg("backtest failed")
		return exitFailure
	}

	w := stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Error().Err(err).Msg("cannot create output file")
			return exitFailure
		}
		defer f.Close()
		w = f
	}
	if err := backtest.WriteCSV(w, res); err != nil {
		log.Error().Err(err).Msg("cannot write backtest CSV")
		return exitFailure
	}
	return exitOK
}

func withoutPostgres(cfg *config.Config) *config.Config {
	c := *cfg
	c.DatabaseURL = ""
	return &c
}

func symbolFromPath(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if i := strings.IndexAny(base, "_-"); i > 0 {
		base = base[:i]
	}
	return strings.ToUpper(base)
}

type staticCatalog struct{ c *scenario.Catalog }

func (s staticCatalog) Catalog() *scenario.Catalog { return s.c }

func newPipeline(a *app, tun config.Tunables, store service.SignalStore, tr *tracker.Tracker, catalogs service.CatalogSource) *service.SignalService {
	return service.NewSignalService(
		a.tracer,
		store,
		tr,
		indicator.NewEngine(tun.IndicatorConfig()),
		matcher.New(tun.MatcherConfig()),
		risk.NewSizer(tun.RiskConfig()),
		catalogs,
	)
}

func cmdReport(ctx context.Context, a *app, args []string) int {
	fs := newFlagSet("report")
	days := fs.Int("days", 0, "only signals closed in the last N days (0 = all)")
	if _, err := parseInterleaved(fs, args); err != nil {
		return exitFailure
	}
	if *days < 0 {
		fmt.Fprintln(stderr, "days must be >= 0")
		return exitFailure
	}

	h, err := openStore(ctx, a, a.cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Msg("cannot open signal store")
		return exitFailure
	}
	defer h.close()

	svc := service.NewSignalService(a.tracer, h.store, nil, nil, nil, nil, nil)
	summary, err := svc.Report(ctx, *days)
	if err != nil {
		log.Error().Err(err).Msg("report failed")
		return exitFailure
	}
	if err := report.Write(stdout, summary); err != nil {
		return exitFailure
	}
	return exitOK
}

func cmdImportCandles(ctx context.Context, a *app, args []string) int {
	fs := newFlagSet("import-candles")
	symbol := fs.String("symbol", "", "symbol of the OHLCV file (default: file name)")
	interval := fs.String("interval", a.cfg.BaseInterval, "bar interval of the OHLCV file")
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return exitFailure
	}
	if len(positional) != 1 {
		fmt.Fprintln(stderr, "usage: workshop import-candles <ohlcv.csv> --symbol S [--interval I]")
		return exitFailure
	}
	if a.cfg.DatabaseURL == "" {
		log.Error().Msg("DATABASE_URL is required to import candles")
		return exitFailure
	}
	if *symbol == "" {
		*symbol = symbolFromPath(positional[0])
	}

	candles, err := backtest.LoadOHLCVFile(positional[0], *symbol, *interval)
	if err != nil {
		log.Error().Err(err).Msg("cannot load OHLCV data")
		return exitFailure
	}
	pool, err := openPostgresFunc(ctx, a.cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("cannot connect to postgres")
		return exitFailure
	}
	defer pool.Close()

	repo := repository.NewCandleRepository(pool, a.tracer)
	if err := repo.RunMigrations(ctx); err != nil {
		log.Error().Err(err).Msg("candle migration failed")
		return exitFailure
	}
	if err := repo.UpsertCandles(ctx, candles); err != nil {
		log.Error().Err(err).Msg("candle import failed")
		return exitFailure
	}
	log.Info().Str("symbol", domain.NormalizeSymbol(*symbol)).Str("interval", *interval).Int("candles", len(candles)).Msg("candles imported")
	fmt.Fprintf(stdout, "imported %d candles\n", len(candles))
	return exitOK
}
