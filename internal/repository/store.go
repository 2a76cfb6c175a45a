package repository

import (
	"context"
	"time"

	"signal-workshop/internal/domain"
)

// SignalStore is the lifecycle store shared by the live runner, the tracker
// and backtests. Every mutation is a single statement.
type SignalStore interface {
	// RunMigrations creates or upgrades the schema and returns the columns it added.
	RunMigrations(ctx context.Context) ([]string, error)
	Insert(ctx context.Context, sig domain.Signal) (domain.Signal, error)
	ListActive(ctx context.Context, symbol string) ([]domain.Signal, error)
	// UpdateTracking reports false when the signal is no longer active.
	UpdateTracking(ctx context.Context, id int64, price, roi float64, flags domain.TPFlags) (bool, error)
	// Close reports false when the signal was already closed.
	Close(ctx context.Context, id int64, closure domain.Closure) (bool, error)
	Get(ctx context.Context, id int64) (domain.Signal, error)
	ListClosed(ctx context.Context, since time.Time) ([]domain.Signal, error)
	ListRecent(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
}

type column struct {
	name string
	// create is the definition used by CREATE TABLE.
	create string
	// alter is the definition used when the column is added to an existing table.
	alter string
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}
