package job

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"signal-workshop/internal/backtest"
	"signal-workshop/internal/domain"
)

// CSVDirSource reads <dir>/<SYMBOL>.csv on every call, so an external
// process can keep appending bars.
type CSVDirSource struct {
	Dir string
}

func (s CSVDirSource) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = domain.NormalizeSymbol(symbol)
	path := filepath.Join(s.Dir, symbol+".csv")
	candles, err := backtest.LoadOHLCVFile(path, symbol, interval)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv feed %s: %w", path, err)
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}
