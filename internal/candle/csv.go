package candle

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"backtest/internal/schema"

	"github.com/yanun0323/errors"
)

var _defaultColumns = []string{"timestamp", "open", "close", "high", "low", "volume"}

// LoadCSVFile reads 1-minute candles of symbol from a CSV file.
func LoadCSVFile(path, symbol string) ([]schema.Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open csv")
	}
	defer file.Close()

	return LoadCSV(file, symbol)
}

// LoadCSV reads 1-minute candles of symbol. Columns default to
// timestamp,open,close,high,low,volume; a header row may reorder them.
// Timestamps are unix milliseconds.
func LoadCSV(r io.Reader, symbol string) ([]schema.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	columns := make(map[string]int, len(_defaultColumns))
	for i, name := range _defaultColumns {
		columns[name] = i
	}

	var candles []schema.Candle
	line := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read csv line %d", line+1)
		}
		line++

		if line == 1 && isHeader(rec) {
			for i, name := range rec {
				columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
			}
			continue
		}

		c, err := parseRecord(rec, columns)
		if err != nil {
			return nil, errors.Wrapf(err, "parse csv line %d", line)
		}
		c.Symbol = symbol
		c.Timeframe = schema.Timeframe1m
		candles = append(candles, c)
	}
	return candles, nil
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	first := strings.TrimSpace(strings.TrimPrefix(rec[0], "\ufeff"))
	_, err := strconv.ParseFloat(first, 64)
	return err != nil
}

func parseRecord(rec []string, columns map[string]int) (schema.Candle, error) {
	var c schema.Candle
	field := func(name string) (string, error) {
		idx, ok := columns[name]
		if !ok || idx >= len(rec) {
			return "", errors.Errorf("missing column %s", name)
		}
		return strings.TrimSpace(rec[idx]), nil
	}

	ts, err := field("timestamp")
	if err != nil {
		return c, err
	}
	if c.Timestamp, err = strconv.ParseInt(ts, 10, 64); err != nil {
		return c, errors.Wrap(err, "parse timestamp")
	}

	targets := []struct {
		name string
		dst  *float64
	}{
		{"open", &c.Open},
		{"close", &c.Close},
		{"high", &c.High},
		{"low", &c.Low},
		{"volume", &c.Volume},
	}
	for _, t := range targets {
		raw, err := field(t.name)
		if err != nil {
			return c, err
		}
		if *t.dst, err = strconv.ParseFloat(raw, 64); err != nil {
			return c, errors.Wrapf(err, "parse %s", t.name)
		}
	}
	return c, nil
}
