package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"signal-workshop/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

var sqliteSignalColumns = []column{
	{name: "id", create: "INTEGER PRIMARY KEY AUTOINCREMENT"},
	{name: "symbol", create: "TEXT NOT NULL", alter: "TEXT"},
	{name: "direction", create: "TEXT NOT NULL", alter: "TEXT"},
	{name: "entry_price", create: "REAL", alter: "REAL"},
	{name: "stop_loss", create: "REAL", alter: "REAL"},
	{name: "tp1_price", create: "REAL", alter: "REAL"},
	{name: "tp2_price", create: "REAL", alter: "REAL"},
	{name: "tp3_price", create: "REAL", alter: "REAL"},
	{name: "confidence", create: "TEXT", alter: "TEXT"},
	{name: "risk_reward", create: "REAL", alter: "REAL"},
	{name: "status", create: "TEXT DEFAULT 'active'", alter: "TEXT DEFAULT 'active'"},
	{name: "scenario_id", create: "TEXT", alter: "TEXT"},
	{name: "scenario_score", create: "REAL", alter: "REAL"},
	// ALTER TABLE cannot add a column with a non-constant default.
	{name: "timestamp", create: "TEXT DEFAULT CURRENT_TIMESTAMP", alter: "TEXT"},
	{name: "close_time", create: "TEXT", alter: "TEXT"},
	{name: "current_price", create: "REAL", alter: "REAL"},
	{name: "current_roi", create: "REAL DEFAULT 0", alter: "REAL DEFAULT 0"},
	{name: "tp1_hit", create: "INTEGER DEFAULT 0", alter: "INTEGER DEFAULT 0"},
	{name: "tp2_hit", create: "INTEGER DEFAULT 0", alter: "INTEGER DEFAULT 0"},
	{name: "tp3_hit", create: "INTEGER DEFAULT 0", alter: "INTEGER DEFAULT 0"},
	{name: "exit_price", create: "REAL", alter: "REAL"},
	{name: "close_reason", create: "TEXT", alter: "TEXT"},
}

var signalIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_timestamp ON signals(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_scenario ON signals(scenario_id)`,
}

const sqliteSelectSignal = `SELECT id, symbol, direction, COALESCE(scenario_id, ''), COALESCE(scenario_score, 0),
	COALESCE(confidence, ''), COALESCE(entry_price, 0), COALESCE(stop_loss, 0), COALESCE(tp1_price, 0),
	COALESCE(tp2_price, 0), COALESCE(tp3_price, 0), COALESCE(risk_reward, 0), COALESCE(status, 'active'),
	COALESCE(tp1_hit, 0), COALESCE(tp2_hit, 0), COALESCE(tp3_hit, 0), current_price, COALESCE(current_roi, 0),
	timestamp, close_time, exit_price, close_reason
	FROM signals`

// SQLiteSignalStore is the default signal store, backed by database/sql and
// the pure-Go SQLite driver.
type SQLiteSignalStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewSQLiteSignalStore(db *sql.DB, tracer trace.Tracer) *SQLiteSignalStore {
	return &SQLiteSignalStore{db: db, tracer: tracer}
}

func (s *SQLiteSignalStore) RunMigrations(ctx context.Context) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "sqlite-signal-store.run-migrations")
	defer span.End()

	defs := make([]string, 0, len(sqliteSignalColumns))
	for _, c := range sqliteSignalColumns {
		defs = append(defs, c.name+" "+c.create)
	}
	create := "CREATE TABLE IF NOT EXISTS signals (\n\t" + strings.Join(defs, ",\n\t") + "\n)"
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("create signals table: %w", err)
	}

	existing, err := s.columns(ctx)
	if err != nil {
		return nil, err
	}
	var added []string
	for _, c := range sqliteSignalColumns {
		if existing[c.name] || c.alter == "" {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE signals ADD COLUMN %s %s", c.name, c.alter)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return added, fmt.Errorf("add column %s: %w", c.name, err)
		}
		added = append(added, c.name)
	}

	for _, stmt := range signalIndexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return added, fmt.Errorf("create index: %w", err)
		}
	}
	return added, nil
}

func (s *SQLiteSignalStore) columns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('signals')`)
	if err != nil {
		return nil, fmt.Errorf("inspect signals table: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = true
	}
	return out, rows.Err()
}

func (s *SQLiteSignalStore) Insert(ctx context.Context, sig domain.Signal) (domain.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "sqlite-signal-store.insert")
	defer span.End()

	sig.Symbol = domain.NormalizeSymbol(sig.Symbol)
	sig.Status = domain.StatusActive
	if sig.CurrentPrice == 0 {
		sig.CurrentPrice = sig.EntryPrice
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now().UTC()
	}
	sig.Timestamp = sig.Timestamp.UTC().Truncate(time.Second)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO signals (symbol, direction, entry_price, stop_loss, tp1_price, tp2_price, tp3_price,
		     confidence, risk_reward, status, scenario_id, scenario_score, timestamp, current_price, current_roi,
		     tp1_hit, tp2_hit, tp3_hit)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.Symbol, string(sig.Direction), sig.EntryPrice, sig.StopLoss, sig.TP1Price, sig.TP2Price, sig.TP3Price,
		string(sig.Confidence), sig.RiskReward, string(sig.Status), sig.ScenarioID, sig.ScenarioScore,
		sig.Timestamp.Format(sqliteTimeLayout), sig.CurrentPrice, sig.CurrentROI,
		boolInt(sig.TP1), boolInt(sig.TP2), boolInt(sig.TP3),
	)
	if err != nil {
		return domain.Signal{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Signal{}, err
	}
	sig.ID = id
	return sig, nil
}

func (s *SQLiteSignalStore) ListActive(ctx context.Context, symbol string) ([]domain.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "sqlite-signal-store.list-active")
	defer span.End()

	query := sqliteSelectSignal + ` WHERE status = 'active'`
	var args []any
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, domain.NormalizeSymbol(symbol))
	}
	query += ` ORDER BY timestamp, id`
	return s.query(ctx, query, args...)
}

func (s *SQLiteSignalStore) UpdateTracking(ctx context.Context, id int64, price, roi float64, flags domain.TPFlags) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "sqlite-signal-store.update-tracking")
	defer span.End()

	flags = flags.Laddered()
	res, err := s.db.ExecContext(ctx,
		`UPDATE signals SET current_price = ?, current_roi = ?,
		     tp1_hit = MAX(COALESCE(tp1_hit, 0), ?),
		     tp2_hit = MAX(COALESCE(tp2_hit, 0), ?),
		     tp3_hit = MAX(COALESCE(tp3_hit, 0), ?)
		 WHERE id = ? AND status = 'active'`,
		price, roi, boolInt(flags.TP1), boolInt(flags.TP2), boolInt(flags.TP3), id,
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *SQLiteSignalStore) Close(ctx context.Context, id int64, c domain.Closure) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "sqlite-signal-store.close")
	defer span.End()

	flags := c.Flags.Laddered()
	closeTime := c.CloseTime
	if closeTime.IsZero() {
		closeTime = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE signals SET status = 'closed', close_time = ?, exit_price = ?, current_price = ?, current_roi = ?,
		     close_reason = ?,
		     tp1_hit = MAX(COALESCE(tp1_hit, 0), ?),
		     tp2_hit = MAX(COALESCE(tp2_hit, 0), ?),
		     tp3_hit = MAX(COALESCE(tp3_hit, 0), ?)
		 WHERE id = ? AND status = 'active'`,
		closeTime.UTC().Format(sqliteTimeLayout), c.ExitPrice, c.ExitPrice, c.FinalROI, string(c.Reason),
		boolInt(flags.TP1), boolInt(flags.TP2), boolInt(flags.TP3), id,
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *SQLiteSignalStore) Get(ctx context.Context, id int64) (domain.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "sqlite-signal-store.get")
	defer span.End()

	out, err := s.query(ctx, sqliteSelectSignal+` WHERE id = ?`, id)
	if err != nil {
		return domain.Signal{}, err
	}
	if len(out) == 0 {
		return domain.Signal{}, fmt.Errorf("signal %d: %w", id, domain.ErrSignalNotFound)
	}
	return out[0], nil
}

func (s *SQLiteSignalStore) ListClosed(ctx context.Context, since time.Time) ([]domain.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "sqlite-signal-store.list-closed")
	defer span.End()

	query := sqliteSelectSignal + ` WHERE status = 'closed'`
	var args []any
	if !since.IsZero() {
		query += ` AND close_time >= ?`
		args = append(args, since.UTC().Format(sqliteTimeLayout))
	}
	query += ` ORDER BY close_time, id`
	return s.query(ctx, query, args...)
}

func (s *SQLiteSignalStore) ListRecent(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	ctx, span := s.tracer.Start(ctx, "sqlite-signal-store.list-recent")
	defer span.End()

	var sb strings.Builder
	sb.WriteString(sqliteSelectSignal + ` WHERE 1=1`)
	args := make([]any, 0, 5)
	if filter.Symbol != "" {
		sb.WriteString(` AND symbol = ?`)
		args = append(args, domain.NormalizeSymbol(filter.Symbol))
	}
	if filter.Status != "" {
		sb.WriteString(` AND status = ?`)
		args = append(args, string(filter.Status))
	}
	if filter.Direction != "" {
		sb.WriteString(` AND direction = ?`)
		args = append(args, string(filter.Direction))
	}
	if filter.ScenarioID != "" {
		sb.WriteString(` AND scenario_id = ?`)
		args = append(args, filter.ScenarioID)
	}
	sb.WriteString(` ORDER BY timestamp DESC, id DESC LIMIT ?`)
	args = append(args, listLimit(filter.Limit))
	return s.query(ctx, sb.String(), args...)
}

func (s *SQLiteSignalStore) query(ctx context.Context, query string, args ...any) ([]domain.Signal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Signal
	for rows.Next() {
		var (
			sig                     domain.Signal
			direction, confidence   string
			status                  string
			tp1, tp2, tp3           int64
			currentPrice, exitPrice sql.NullFloat64
			timestamp, closeTime    sql.NullString
			closeReason             sql.NullString
		)
		if err := rows.Scan(
			&sig.ID, &sig.Symbol, &direction, &sig.ScenarioID, &sig.ScenarioScore,
			&confidence, &sig.EntryPrice, &sig.StopLoss, &sig.TP1Price,
			&sig.TP2Price, &sig.TP3Price, &sig.RiskReward, &status,
			&tp1, &tp2, &tp3, &currentPrice, &sig.CurrentROI,
			&timestamp, &closeTime, &exitPrice, &closeReason,
		); err != nil {
			return nil, err
		}
		sig.Direction = domain.SignalDirection(direction)
		sig.Confidence = domain.Category(confidence)
		sig.Status = domain.SignalStatus(status)
		sig.TPFlags = domain.TPFlags{TP1: tp1 != 0, TP2: tp2 != 0, TP3: tp3 != 0}
		sig.CurrentPrice = sig.EntryPrice
		if currentPrice.Valid {
			sig.CurrentPrice = currentPrice.Float64
		}
		if timestamp.Valid {
			sig.Timestamp = parseSQLiteTime(timestamp.String)
		}
		if closeTime.Valid && closeTime.String != "" {
			t := parseSQLiteTime(closeTime.String)
			sig.CloseTime = &t
		}
		if exitPrice.Valid {
			v := exitPrice.Float64
			sig.ExitPrice = &v
		}
		if closeReason.Valid {
			sig.CloseReason = domain.CloseReason(closeReason.String)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func parseSQLiteTime(raw string) time.Time {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ SignalStore = (*SQLiteSignalStore)(nil)
