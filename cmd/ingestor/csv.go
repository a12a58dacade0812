package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

var requiredColumns = []string{"lat", "lon", "risk_score"}

// parseStats counts what happened to each data row of a file.
type parseStats struct {
	Rows    int
	Skipped int
}

// readObservations streams rows from r and hands them to emit in batches of
// at most batchSize. Rows that fail to parse or validate are skipped.
// defaultSource is used for rows without a source column value.
func readObservations(r io.Reader, defaultSource string, batchSize int, emit func([]domain.Observation) error) (parseStats, error) {
	var stats parseStats

	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return stats, fmt.Errorf("empty file")
		}
		return stats, fmt.Errorf("read header: %w", err)
	}
	cols := indexColumns(header)
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return stats, fmt.Errorf("missing column %q", name)
		}
	}

	batch := make([]domain.Observation, 0, batchSize)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Rows++
				stats.Skipped++
				continue
			}
			return stats, fmt.Errorf("read row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++

		o, err := parseRow(record, cols, defaultSource)
		if err != nil {
			stats.Skipped++
			continue
		}
		batch = append(batch, o)

		if len(batch) >= batchSize {
			if err := emit(batch); err != nil {
				return stats, err
			}
			batch = make([]domain.Observation, 0, batchSize)
		}
	}
	if len(batch) > 0 {
		if err := emit(batch); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func parseRow(record []string, cols map[string]int, defaultSource string) (domain.Observation, error) {
	var o domain.Observation
	var err error

	if o.Location.Lat, err = parseFloat(record, cols, "lat"); err != nil {
		return o, err
	}
	if o.Location.Lon, err = parseFloat(record, cols, "lon"); err != nil {
		return o, err
	}
	if o.RiskScore, err = parseFloat(record, cols, "risk_score"); err != nil {
		return o, err
	}

	o.Confidence = 1
	if v := getField(record, cols, "confidence"); v != "" {
		if o.Confidence, err = strconv.ParseFloat(v, 64); err != nil {
			return o, fmt.Errorf("confidence: %w", err)
		}
	}
	if v := getField(record, cols, "population_at_risk"); v != "" {
		if o.PopulationAtRisk, err = strconv.Atoi(v); err != nil {
			return o, fmt.Errorf("population_at_risk: %w", err)
		}
	}
	if v := getField(record, cols, "timestamp"); v != "" {
		if o.Timestamp, err = parseTimestamp(v); err != nil {
			return o, err
		}
	}

	o.Source = getField(record, cols, "source")
	if o.Source == "" {
		o.Source = defaultSource
	}

	if err := o.Validate(); err != nil {
		return o, err
	}
	return o, nil
}

func parseFloat(record []string, cols map[string]int, name string) (float64, error) {
	v := getField(record, cols, name)
	if v == "" {
		return 0, fmt.Errorf("%s: empty", name)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}

// parseTimestamp accepts RFC 3339, a plain date, or unix seconds.
func parseTimestamp(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("timestamp %q: unsupported format", v)
}

func indexColumns(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		// Strip BOM from first column
		col = strings.TrimPrefix(col, "\xef\xbb\xbf")
		m[strings.ToLower(strings.TrimSpace(col))] = i
	}
	return m
}

func getField(record []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
