package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Milad-Afdasta/ratewindow/internal/clock"
	"github.com/Milad-Afdasta/ratewindow/internal/loadgen"
	"github.com/Milad-Afdasta/ratewindow/internal/metrics"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"gopkg.in/yaml.v3"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

func sampleHistory() History {
	return History{
		ThresholdRPS:  30,
		WindowSeconds: 10,
		Samples: []metrics.Snapshot{
			{RequestsPerSecond: 1.5, AverageLatency: 0.001, Dropped: 0, Timestamp: t0},
			{RequestsPerSecond: 31.2, AverageLatency: 0.002, Dropped: 4, Timestamp: t0.Add(time.Second)},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	for _, s := range []string{"json", "yaml", "parquet"} {
		f, err := ParseFormat(s)
		require.NoError(t, err)
		assert.Equal(t, Format(s), f)
	}

	_, err = ParseFormat("png")
	assert.Error(t, err)
}

func TestWriteHistoryJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "history.json")
	require.NoError(t, WriteHistory(path, FormatJSON, sampleHistory()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got History
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 30.0, got.ThresholdRPS)
	require.Len(t, got.Samples, 2)
	assert.Equal(t, int64(4), got.Samples[1].Dropped)
	assert.Contains(t, string(data), `"dropped_requests": 4`)
}

func TestWriteHistoryYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.yaml")
	require.NoError(t, WriteHistory(path, FormatYAML, sampleHistory()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got History
	require.NoError(t, yaml.Unmarshal(data, &got))
	require.Len(t, got.Samples, 2)
	assert.Equal(t, 31.2, got.Samples[1].RequestsPerSecond)
	assert.True(t, got.Samples[1].Timestamp.Equal(t0.Add(time.Second)))
}

func TestWriteHistoryParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.parquet")
	require.NoError(t, WriteHistory(path, FormatParquet, sampleHistory()))

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(historyRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	require.Equal(t, int64(2), pr.GetNumRows())
	rows := make([]historyRow, 2)
	require.NoError(t, pr.Read(&rows))

	assert.Equal(t, t0.UnixMilli(), rows[0].Timestamp)
	assert.Equal(t, 1.0, rows[1].ElapsedSeconds)
	assert.Equal(t, int64(4), rows[1].Dropped)
	assert.Equal(t, 30.0, rows[1].ThresholdRPS)
}

func TestWriteOutcomesParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outcomes.parquet")
	outcomes := []loadgen.Outcome{
		{Client: 0, Seq: 1, Status: 200, Latency: 1500 * time.Microsecond, Timestamp: t0},
		{Client: 1, Seq: 1, Status: 429, Latency: time.Millisecond, Timestamp: t0,
			Err: &loadgen.ClientRequestError{Client: 1, Seq: 1, Status: 429}},
	}
	require.NoError(t, WriteOutcomes(path, outcomes))

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(outcomeRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	rows := make([]outcomeRow, pr.GetNumRows())
	require.NoError(t, pr.Read(&rows))
	require.Len(t, rows, 2)
	assert.Equal(t, 1.5, rows[0].LatencyMs)
	assert.Equal(t, int32(429), rows[1].Status)
	assert.Equal(t, "client 1 request 1: unexpected status 429", rows[1].ErrMsg)
}

func TestBuildAndLogSummary(t *testing.T) {
	clk := clock.NewManual(t0)
	agg, err := metrics.NewAggregator(metrics.Options{Window: 10 * time.Second, RecordHistory: true, Clock: clk})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		agg.RecordAdmitted(t0, time.Duration(i+1)*time.Millisecond)
	}
	agg.RecordDropped()

	load := &loadgen.Result{Planned: 21, Sent: 21, OK: 20, Rejected: 1}
	s := Build(agg, load, false)

	assert.Equal(t, 2.0, s.Final.RequestsPerSecond)
	assert.Equal(t, int64(1), s.Final.Dropped)
	assert.Equal(t, 11*time.Millisecond, s.LatencyP50)
	assert.True(t, s.Accounted())
	assert.Len(t, agg.History(), 1, "final summary is an explicit sample")

	hook := test.NewGlobal()
	defer hook.Reset()
	s.Log()

	require.NotEmpty(t, hook.Entries)
	assert.Equal(t, "Final metrics: RPS=2.00, Avg Latency=0.0105s, Dropped=1", hook.Entries[0].Message)
	assert.Equal(t, log.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, 21, hook.LastEntry().Data["sent"])

	s.Load.OK = 5
	assert.False(t, s.Accounted())
}
