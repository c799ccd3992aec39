package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollParsesMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"requests_per_second":12.5,"average_latency":0.0021,"dropped_requests":7}`))
	}))
	defer srv.Close()

	p := NewPoller(srv.URL+"/metrics", time.Second)
	snap, err := p.Poll()
	require.NoError(t, err)

	assert.Equal(t, 12.5, snap.RequestsPerSecond)
	assert.Equal(t, 0.0021, snap.AverageLatency)
	assert.Equal(t, int64(7), snap.Dropped)
	assert.Equal(t, snap, p.Last())

	total, failed := p.Polls()
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, failed)
}

func TestPollRejectsBadResponses(t *testing.T) {
	bodies := []struct {
		name   string
		status int
		body   string
	}{
		{"status", http.StatusInternalServerError, `{}`},
		{"malformed", http.StatusOK, `{"requests_per_second":`},
		{"missing", http.StatusOK, `{"requests_per_second":1}`},
		{"negative", http.StatusOK, `{"requests_per_second":1,"average_latency":0,"dropped_requests":-3}`},
	}

	for _, tc := range bodies {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			p := NewPoller(srv.URL, time.Second)
			_, err := p.Poll()
			assert.Error(t, err)

			_, failed := p.Polls()
			assert.Equal(t, 1, failed)
		})
	}
}

func TestStartPollsUntilCancelled(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"requests_per_second":0,"average_latency":0,"dropped_requests":0}`))
	}))
	defer srv.Close()

	p := NewPoller(srv.URL, 20*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after cancellation")
	}
	assert.GreaterOrEqual(t, hits.Load(), int64(3))
}
