package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/cache"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/ratelimit"
)

func TestRegistryExportsCounters(t *testing.T) {
	reg := NewRegistry()

	limiter := ratelimit.New(ratelimit.Config{RequestsPerMinute: 60, Burst: 2, QueueSize: 0})
	reg.RegisterLimiter("horizon", limiter)
	require.NoError(t, limiter.Acquire(context.Background()))
	require.NoError(t, limiter.Acquire(context.Background()))
	assert.ErrorIs(t, limiter.Acquire(context.Background()), ratelimit.ErrRateLimitExceeded)

	c := cache.NewMemory()
	reg.RegisterCache(c)
	_, _, _ = c.Get(context.Background(), "missing")

	reg.ObserveAggregation(3, nil, time.Second)
	reg.ObserveAggregation(0, errors.New("boom"), time.Second)
	reg.ObserveSnapshot(7, "submitted", true, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.aggregationRuns.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(reg.hoursProcessed))
	assert.Equal(t, 7.0, testutil.ToFloat64(reg.lastSnapshotEpoch))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.verifications.WithLabelValues("mismatch")))

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `corridorwatch_ratelimit_requests_total{limiter="horizon"} 3`)
	assert.Contains(t, text, `corridorwatch_ratelimit_rejected_total{limiter="horizon"} 1`)
	assert.Contains(t, text, "corridorwatch_cache_misses_total 1")
	assert.True(t, strings.Contains(text, `corridorwatch_snapshots_total{submission="submitted"} 1`))
}
