package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"perpcore/pkg/exchange"
)

// LoadCandlesFile reads candles from a CSV file. See ReadCandles.
func LoadCandlesFile(path string) ([]exchange.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backtest: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCandles(f)
}

// ReadCandles parses rows of time,open,high,low,close,volume. Time is unix
// milliseconds or RFC3339. A non-numeric first row is treated as a header.
// Rows are returned oldest first.
func ReadCandles(r io.Reader) ([]exchange.Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 6
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("backtest: read csv: %w", err)
	}
	out := make([]exchange.Candle, 0, len(records))
	for i, rec := range records {
		c, err := parseCandle(rec)
		if err != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("backtest: row %d: %w", i+1, err)
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

func parseCandle(rec []string) (exchange.Candle, error) {
	at, err := parseTime(rec[0])
	if err != nil {
		return exchange.Candle{}, err
	}
	var v [5]float64
	for i := range v {
		v[i], err = strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return exchange.Candle{}, fmt.Errorf("column %d: %w", i+2, err)
		}
	}
	return exchange.Candle{OpenTime: at, Open: v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4]}, nil
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q: %w", raw, err)
	}
	return t.UTC(), nil
}
