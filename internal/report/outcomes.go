package report

import (
	"github.com/Milad-Afdasta/ratewindow/internal/loadgen"
	"github.com/xitongsys/parquet-go/writer"
)

// outcomeRow is one parquet row per client request
type outcomeRow struct {
	Timestamp int64   `parquet:"name=ts, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	ClientID  int32   `parquet:"name=client_id, type=INT32"`
	Seq       int32   `parquet:"name=seq, type=INT32"`
	Status    int32   `parquet:"name=http_status, type=INT32"`
	LatencyMs float64 `parquet:"name=latency_ms, type=DOUBLE"`
	ErrMsg    string  `parquet:"name=err_msg, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteOutcomes writes every client request outcome to a parquet file
func WriteOutcomes(path string, outcomes []loadgen.Outcome) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	return writeParquet(path, new(outcomeRow), len(outcomes), func(pw *writer.ParquetWriter) error {
		for _, o := range outcomes {
			row := outcomeRow{
				Timestamp: o.Timestamp.UnixMilli(),
				ClientID:  int32(o.Client),
				Seq:       int32(o.Seq),
				Status:    int32(o.Status),
				LatencyMs: float64(o.Latency.Microseconds()) / 1000,
			}
			if o.Err != nil {
				row.ErrMsg = o.Err.Error()
			}
			if err := pw.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}
