package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/refreshd/internal/errors"
	"github.com/dgnsrekt/refreshd/internal/refresh"
)

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8080", baseURL(":8080"))
	assert.Equal(t, "http://localhost:9000", baseURL("localhost:9000"))
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/stats":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"activeSubscriptions":2,"byPriority":{"critical":2},"queueDepth":1}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	var stats refresh.Stats
	require.NoError(t, getJSON(context.Background(), server.URL+"/v1/stats", &stats))
	assert.Equal(t, 2, stats.ActiveSubscriptions)
	assert.Equal(t, 2, stats.ByPriority[refresh.PriorityCritical])

	var pm refresh.PerformanceMetrics
	err := getJSON(context.Background(), server.URL+"/v1/stats/missing", &pm)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, refresh.Stats{
		ActiveSubscriptions: 1200,
		ByPriority:          map[refresh.Priority]int{refresh.PriorityCritical: 1200},
		DataTypes: []refresh.PerformanceMetrics{
			{DataType: "users", TotalRefreshes: 4500, SuccessRate: 0.5, AverageTimeMs: 12.25, LastRefresh: time.Now()},
		},
		Totals: refresh.PerformanceMetrics{DataType: "*"},
	})

	out := buf.String()
	assert.Contains(t, out, "Active subscriptions: 1,200")
	assert.Contains(t, out, "critical")
	assert.Contains(t, out, "4,500")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "never")
}
