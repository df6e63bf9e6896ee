package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datakitchen/observability-agent/internal/config"
	"github.com/datakitchen/observability-agent/internal/testutil"
)

func testHTTPConfig() config.HTTPConfig {
	return config.HTTPConfig{
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		WriteTimeout:   time.Second,
		MaxConnections: 10,
		MaxKeepAlive:   10,
	}
}

// Scenario 5 / §8 "Retry": a handle with retry_config={status=S,
// retry_count=k, backoff=b} against a server returning S exactly k
// times then 200 makes exactly k+1 requests.
func TestConfiguredStatusRetry_ExactRequestCount(t *testing.T) {
	var calls int32
	const k = 3
	server := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= k {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(testHTTPConfig(), server.URL, nil)
	require.NoError(t, err)

	handle := client.NewHandle(http.MethodGet, "/ping", []config.RetryRule{
		{Status: http.StatusServiceUnavailable, RetryCount: k, BackoffMultiplier: 0.01},
	})

	start := time.Now()
	resp, err := handle.Do(context.Background(), nil, nil, nil, nil)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, k+1, atomic.LoadInt32(&calls))

	var wantWait time.Duration
	for i := 1; i <= k; i++ {
		wantWait += time.Duration(0.01*pow2(i-1)*float64(time.Second))
	}
	assert.GreaterOrEqual(t, elapsed, wantWait)
}

func TestConfiguredStatusRetry_StopsWhenStatusChanges(t *testing.T) {
	var calls int32
	server := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		// second attempt: a different non-matching status, no further retries.
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	client, err := NewClient(testHTTPConfig(), server.URL, nil)
	require.NoError(t, err)
	handle := client.NewHandle(http.MethodGet, "/x", []config.RetryRule{
		{Status: http.StatusServiceUnavailable, RetryCount: 5, BackoffMultiplier: 0.01},
	})

	resp, err := handle.Do(context.Background(), nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

// §8 "Rate-limit honoring": a Retry-After-style value <= read_timeout
// delays the next request by that amount, clamped, and the handle
// replays exactly once.
func TestRateLimitRetry_RelativeSeconds(t *testing.T) {
	var calls int32
	server := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("X-RateLimit-Reset", "0.05")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(testHTTPConfig(), server.URL, nil)
	require.NoError(t, err)
	handle := client.NewHandle(http.MethodGet, "/y", nil)

	start := time.Now()
	resp, err := handle.Do(context.Background(), nil, nil, nil, nil)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

// §8 "Rate-limit value parsing": t > 86400 is an absolute Unix
// timestamp; the computed wait is max(0, t-now) clamped to read_timeout.
func TestParseRateLimitWait_AbsoluteTimestampClamped(t *testing.T) {
	cfg := testHTTPConfig() // ReadTimeout = 2s
	future := time.Now().Add(10 * time.Second).Unix()
	header := http.Header{}
	header.Set("X-RateLimit-Reset", fmt.Sprintf("%d", future))

	wait, ok := parseRateLimitWait(header, cfg.ReadTimeout)
	require.True(t, ok)
	assert.Equal(t, cfg.ReadTimeout, wait)
}

func TestParseRateLimitWait_ZeroValueIgnored(t *testing.T) {
	header := http.Header{}
	header.Set("RateLimit-Reset", "0")
	_, ok := parseRateLimitWait(header, time.Second)
	assert.False(t, ok)
}

// §4.2 step 4: a 401 whose body contains the soft-failure substring
// retries up to 3 times with exponential backoff and returns the final
// response regardless of outcome.
func TestAuthSoftFailureRetry_ReturnsFinalResponse(t *testing.T) {
	var calls int32
	server := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("please try again in a bit"))
	}))
	defer server.Close()

	client, err := NewClient(testHTTPConfig(), server.URL, nil)
	require.NoError(t, err)
	handle := client.NewHandle(http.MethodGet, "/z", nil)

	resp, err := handle.Do(context.Background(), nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	// Initial attempt plus 3 retries.
	assert.EqualValues(t, 1+authSoftFailureMaxRetries, atomic.LoadInt32(&calls))
}

func TestAuthSoftFailureRetry_OnlyAppliesWithSubstring(t *testing.T) {
	var calls int32
	server := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid credentials"))
	}))
	defer server.Close()

	client, err := NewClient(testHTTPConfig(), server.URL, nil)
	require.NoError(t, err)
	handle := client.NewHandle(http.MethodGet, "/z", nil)

	resp, err := handle.Do(context.Background(), nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSubstitutePath_UnfilledPlaceholderRejected(t *testing.T) {
	client, err := NewClient(testHTTPConfig(), "http://example.invalid", nil)
	require.NoError(t, err)
	handle := client.NewHandle(http.MethodGet, "/runs/{run_id}/tasks/{task_id}", nil)

	_, err = handle.Do(context.Background(), nil, nil, map[string]string{"run_id": "42"}, nil)
	require.Error(t, err)
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}
