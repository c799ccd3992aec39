// Package report renders the end-of-run summary and exports the sampled
// metrics history.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Milad-Afdasta/ratewindow/internal/metrics"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"
	"gopkg.in/yaml.v3"
)

// Format is a history export format
type Format string

const (
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatParquet Format = "parquet"
)

// ParseFormat converts a configuration string into a Format
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatYAML, FormatParquet:
		return Format(s), nil
	case "":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown history format %q", s)
}

// History is the exported series
type History struct {
	ThresholdRPS  float64            `json:"threshold_rps" yaml:"threshold_rps"`
	WindowSeconds float64            `json:"window_seconds" yaml:"window_seconds"`
	Samples       []metrics.Snapshot `json:"samples" yaml:"samples"`
}

// historyRow is one parquet row per sample
type historyRow struct {
	Timestamp         int64   `parquet:"name=ts, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	ElapsedSeconds    float64 `parquet:"name=elapsed_seconds, type=DOUBLE"`
	RequestsPerSecond float64 `parquet:"name=requests_per_second, type=DOUBLE"`
	AverageLatency    float64 `parquet:"name=average_latency, type=DOUBLE"`
	Dropped           int64   `parquet:"name=dropped_requests, type=INT64"`
	ThresholdRPS      float64 `parquet:"name=threshold_rps, type=DOUBLE"`
}

// WriteHistory writes h to path in the given format
func WriteHistory(path string, format Format, h History) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	switch format {
	case FormatJSON:
		return writeEncoded(path, func(f *os.File) error {
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			return enc.Encode(h)
		})
	case FormatYAML:
		return writeEncoded(path, func(f *os.File) error {
			enc := yaml.NewEncoder(f)
			defer enc.Close()
			return enc.Encode(h)
		})
	case FormatParquet:
		return writeHistoryParquet(path, h)
	}
	return fmt.Errorf("unknown history format %q", format)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

func writeEncoded(path string, encode func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := encode(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode history: %w", err)
	}
	return f.Close()
}

func writeHistoryParquet(path string, h History) error {
	rows := make([]historyRow, len(h.Samples))
	var t0 time.Time
	if len(h.Samples) > 0 {
		t0 = h.Samples[0].Timestamp
	}
	for i, s := range h.Samples {
		rows[i] = historyRow{
			Timestamp:         s.Timestamp.UnixMilli(),
			ElapsedSeconds:    s.Timestamp.Sub(t0).Seconds(),
			RequestsPerSecond: s.RequestsPerSecond,
			AverageLatency:    s.AverageLatency,
			Dropped:           s.Dropped,
			ThresholdRPS:      h.ThresholdRPS,
		}
	}
	return writeParquet(path, new(historyRow), len(rows), func(pw *writer.ParquetWriter) error {
		for _, r := range rows {
			if err := pw.Write(r); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeParquet opens path, lets fill write the rows and finalizes the file
func writeParquet(path string, schema interface{}, n int, fill func(*writer.ParquetWriter) error) error {
	file, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}

	pw, err := writer.NewParquetWriter(file, schema, 4)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	if err := fill(pw); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %d rows: %w", n, err)
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("failed to stop parquet writer: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close parquet file: %w", err)
	}
	return nil
}
