package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"signal-workshop/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

var pgSignalColumns = []column{
	{name: "id", create: "BIGSERIAL PRIMARY KEY"},
	{name: "symbol", create: "TEXT NOT NULL", alter: "TEXT"},
	{name: "direction", create: "TEXT NOT NULL", alter: "TEXT"},
	{name: "entry_price", create: "DOUBLE PRECISION", alter: "DOUBLE PRECISION"},
	{name: "stop_loss", create: "DOUBLE PRECISION", alter: "DOUBLE PRECISION"},
	{name: "tp1_price", create: "DOUBLE PRECISION", alter: "DOUBLE PRECISION"},
	{name: "tp2_price", create: "DOUBLE PRECISION", alter: "DOUBLE PRECISION"},
	{name: "tp3_price", create: "DOUBLE PRECISION", alter: "DOUBLE PRECISION"},
	{name: "confidence", create: "TEXT", alter: "TEXT"},
	{name: "risk_reward", create: "DOUBLE PRECISION", alter: "DOUBLE PRECISION"},
	{name: "status", create: "TEXT NOT NULL DEFAULT 'active'", alter: "TEXT DEFAULT 'active'"},
	{name: "scenario_id", create: "TEXT", alter: "TEXT"},
	{name: "scenario_score", create: "DOUBLE PRECISION", alter: "DOUBLE PRECISION"},
	{name: "timestamp", create: "TIMESTAMPTZ NOT NULL DEFAULT NOW()", alter: "TIMESTAMPTZ DEFAULT NOW()"},
	{name: "close_time", create: "TIMESTAMPTZ", alter: "TIMESTAMPTZ"},
	{name: "current_price", create: "DOUBLE PRECISION", alter: "DOUBLE PRECISION"},
	{name: "current_roi", create: "DOUBLE PRECISION NOT NULL DEFAULT 0", alter: "DOUBLE PRECISION DEFAULT 0"},
	{name: "tp1_hit", create: "BOOLEAN NOT NULL DEFAULT FALSE", alter: "BOOLEAN DEFAULT FALSE"},
	{name: "tp2_hit", create: "BOOLEAN NOT NULL DEFAULT FALSE", alter: "BOOLEAN DEFAULT FALSE"},
	{name: "tp3_hit", create: "BOOLEAN NOT NULL DEFAULT FALSE", alter: "BOOLEAN DEFAULT FALSE"},
	{name: "exit_price", create: "DOUBLE PRECISION", alter: "DOUBLE PRECISION"},
	{name: "close_reason", create: "TEXT", alter: "TEXT"},
}

const pgSelectSignal = `SELECT id, symbol, direction, COALESCE(scenario_id, ''), COALESCE(scenario_score, 0),
	COALESCE(confidence, ''), COALESCE(entry_price, 0), COALESCE(stop_loss, 0), COALESCE(tp1_price, 0),
	COALESCE(tp2_price, 0), COALESCE(tp3_price, 0), COALESCE(risk_reward, 0), status,
	COALESCE(tp1_hit, FALSE), COALESCE(tp2_hit, FALSE), COALESCE(tp3_hit, FALSE),
	COALESCE(current_price, entry_price, 0), COALESCE(current_roi, 0),
	timestamp, close_time, exit_price, close_reason
	FROM signals`

// PgSignalStore keeps signals in Postgres for deployments that already run
// the candle feed there.
type PgSignalStore struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewPgSignalStore(pool PgxPool, tracer trace.Tracer) *PgSignalStore {
	return &PgSignalStore{pool: pool, tracer: tracer}
}

func (r *PgSignalStore) RunMigrations(ctx context.Context) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "signal-repo.run-migrations")
	defer span.End()

	defs := make([]string, 0, len(pgSignalColumns))
	for _, c := range pgSignalColumns {
		defs = append(defs, c.name+" "+c.create)
	}
	if _, err := r.pool.Exec(ctx, "CREATE TABLE IF NOT EXISTS signals (\n\t"+strings.Join(defs, ",\n\t")+"\n)"); err != nil {
		return nil, fmt.Errorf("create signals table: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = 'signals'`)
	if err != nil {
		return nil, fmt.Errorf("inspect signals table: %w", err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var added []string
	for _, c := range pgSignalColumns {
		if existing[c.name] || c.alter == "" {
			continue
		}
		if _, err := r.pool.Exec(ctx, fmt.Sprintf("ALTER TABLE signals ADD COLUMN IF NOT EXISTS %s %s", c.name, c.alter)); err != nil {
			return added, fmt.Errorf("add column %s: %w", c.name, err)
		}
		added = append(added, c.name)
	}
	for _, stmt := range signalIndexes {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return added, fmt.Errorf("create index: %w", err)
		}
	}
	return added, nil
}

func (r *PgSignalStore) Insert(ctx context.Context, sig domain.Signal) (domain.Signal, error) {
	ctx, span := r.tracer.Start(ctx, "signal-repo.insert")
	defer span.End()

	sig.Symbol = domain.NormalizeSymbol(sig.Symbol)
	sig.Status = domain.StatusActive
	if sig.CurrentPrice == 0 {
		sig.CurrentPrice = sig.EntryPrice
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now()
	}
	sig.Timestamp = sig.Timestamp.UTC().Truncate(time.Second)

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO signals (symbol, direction, entry_price, stop_loss, tp1_price, tp2_price, tp3_price,
		     confidence, risk_reward, status, scenario_id, scenario_score, timestamp, current_price, current_roi,
		     tp1_hit, tp2_hit, tp3_hit)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 RETURNING id`,
		sig.Symbol, string(sig.Direction), sig.EntryPrice, sig.StopLoss, sig.TP1Price, sig.TP2Price, sig.TP3Price,
		string(sig.Confidence), sig.RiskReward, string(sig.Status), sig.ScenarioID, sig.ScenarioScore,
		sig.Timestamp, sig.CurrentPrice, sig.CurrentROI, sig.TP1, sig.TP2, sig.TP3,
	).Scan(&id)
	if err != nil {
		return domain.Signal{}, err
	}
	sig.ID = id
	return sig, nil
}

func (r *PgSignalStore) ListActive(ctx context.Context, symbol string) ([]domain.Signal, error) {
	ctx, span := r.tracer.Start(ctx, "signal-repo.list-active")
	defer span.End()

	query := pgSelectSignal + ` WHERE status = 'active'`
	var args []any
	if symbol != "" {
		args = append(args, domain.NormalizeSymbol(symbol))
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	query += ` ORDER BY timestamp, id`
	return r.query(ctx, query, args...)
}

func (r *PgSignalStore) UpdateTracking(ctx context.Context, id int64, price, roi float64, flags domain.TPFlags) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "signal-repo.update-tracking")
	defer span.End()

	flags = flags.Laddered()
	tag, err := r.pool.Exec(ctx,
		`UPDATE signals SET current_price = $1, current_roi = $2,
		     tp1_hit = tp1_hit OR $3, tp2_hit = tp2_hit OR $4, tp3_hit = tp3_hit OR $5
		 WHERE id = $6 AND status = 'active'`,
		price, roi, flags.TP1, flags.TP2, flags.TP3, id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgSignalStore) Close(ctx context.Context, id int64, c domain.Closure) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "signal-repo.close")
	defer span.End()

	flags := c.Flags.Laddered()
	closeTime := c.CloseTime
	if closeTime.IsZero() {
		closeTime = time.Now()
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE signals SET status = 'closed', close_time = $1, exit_price = $2, current_price = $2,
		     current_roi = $3, close_reason = $4,
		     tp1_hit = tp1_hit OR $5, tp2_hit = tp2_hit OR $6, tp3_hit = tp3_hit OR $7
		 WHERE id = $8 AND status = 'active'`,
		closeTime.UTC(), c.ExitPrice, c.FinalROI, string(c.Reason), flags.TP1, flags.TP2, flags.TP3, id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgSignalStore) Get(ctx context.Context, id int64) (domain.Signal, error) {
	ctx, span := r.tracer.Start(ctx, "signal-repo.get")
	defer span.End()

	out, err := r.query(ctx, pgSelectSignal+` WHERE id = $1`, id)
	if err != nil {
		return domain.Signal{}, err
	}
	if len(out) == 0 {
		return domain.Signal{}, fmt.Errorf("signal %d: %w", id, domain.ErrSignalNotFound)
	}
	return out[0], nil
}

func (r *PgSignalStore) ListClosed(ctx context.Context, since time.Time) ([]domain.Signal, error) {
	ctx, span := r.tracer.Start(ctx, "signal-repo.list-closed")
	defer span.End()

	query := pgSelectSignal + ` WHERE status = 'closed'`
	var args []any
	if !since.IsZero() {
		args = append(args, since.UTC())
		query += fmt.Sprintf(" AND close_time >= $%d", len(args))
	}
	query += ` ORDER BY close_time, id`
	return r.query(ctx, query, args...)
}

func (r *PgSignalStore) ListRecent(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error) {
	ctx, span := r.tracer.Start(ctx, "signal-repo.list-recent")
	defer span.End()

	args := make([]any, 0, 5)
	var sb strings.Builder
	sb.WriteString(pgSelectSignal + ` WHERE 1=1`)

	if filter.Symbol != "" {
		args = append(args, domain.NormalizeSymbol(filter.Symbol))
		sb.WriteString(fmt.Sprintf(" AND symbol = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		sb.WriteString(fmt.Sprintf(" AND status = $%d", len(args)))
	}
	if filter.Direction != "" {
		args = append(args, string(filter.Direction))
		sb.WriteString(fmt.Sprintf(" AND direction = $%d", len(args)))
	}
	if filter.ScenarioID != "" {
		args = append(args, filter.ScenarioID)
		sb.WriteString(fmt.Sprintf(" AND scenario_id = $%d", len(args)))
	}
	args = append(args, listLimit(filter.Limit))
	sb.WriteString(fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d", len(args)))

	return r.query(ctx, sb.String(), args...)
}

func (r *PgSignalStore) query(ctx context.Context, query string, args ...any) ([]domain.Signal, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []domain.Signal
	for rows.Next() {
		var (
			s                     domain.Signal
			direction, confidence string
			status                string
			closeTime             *time.Time
			exitPrice             *float64
			closeReason           *string
		)
		if err := rows.Scan(
			&s.ID, &s.Symbol, &direction, &s.ScenarioID, &s.ScenarioScore,
			&confidence, &s.EntryPrice, &s.StopLoss, &s.TP1Price,
			&s.TP2Price, &s.TP3Price, &s.RiskReward, &status,
			&s.TP1, &s.TP2, &s.TP3,
			&s.CurrentPrice, &s.CurrentROI,
			&s.Timestamp, &closeTime, &exitPrice, &closeReason,
		); err != nil {
			return nil, err
		}
		s.Direction = domain.SignalDirection(direction)
		s.Confidence = domain.Category(confidence)
		s.Status = domain.SignalStatus(status)
		s.Timestamp = s.Timestamp.UTC()
		if closeTime != nil {
			t := closeTime.UTC()
			s.CloseTime = &t
		}
		s.ExitPrice = exitPrice
		if closeReason != nil {
			s.CloseReason = domain.CloseReason(*closeReason)
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

var _ SignalStore = (*PgSignalStore)(nil)
