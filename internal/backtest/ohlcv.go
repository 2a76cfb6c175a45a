package backtest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"signal-workshop/internal/domain"
)

var ohlcvColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// LoadOHLCVFile reads a CSV with header timestamp,open,high,low,close,volume.
func LoadOHLCVFile(path, symbol, interval string) ([]domain.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	candles, err := LoadOHLCV(f, symbol, interval)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return candles, nil
}

// LoadOHLCV parses OHLCV rows. Timestamps are RFC3339 or unix seconds or
// milliseconds. Rows are returned oldest first; a repeated timestamp keeps
// the last row.
func LoadOHLCV(r io.Reader, symbol, interval string) ([]domain.Candle, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty OHLCV file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	pos := make([]int, len(ohlcvColumns))
	for i, name := range ohlcvColumns {
		p, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		pos[i] = p
	}

	symbol = domain.NormalizeSymbol(symbol)
	byTime := make(map[time.Time]domain.Candle)
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := parseTimestamp(rec[pos[0]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var values [5]float64
		for i := range values {
			raw := strings.TrimSpace(rec[pos[i+1]])
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad %s %q", line, ohlcvColumns[i+1], raw)
			}
			values[i] = v
		}
		c := domain.Candle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: ts,
			Open:     values[0],
			High:     values[1],
			Low:      values[2],
			Close:    values[3],
			Volume:   values[4],
		}
		if c.High < c.Low || c.High < max(c.Open, c.Close) || c.Low > min(c.Open, c.Close) {
			return nil, fmt.Errorf("line %d: inconsistent OHLC values", line)
		}
		byTime[ts] = c
	}

	candles := make([]domain.Candle, 0, len(byTime))
	for _, c := range byTime {
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })
	return candles, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 || n < -1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", raw)
	}
	return t.UTC(), nil
}
