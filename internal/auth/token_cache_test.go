package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// §4.3 "Concurrent refresh": OAuth variants guarantee at-most-one
// concurrent token refresh. N concurrent callers while no token is
// cached must trigger exactly one call to refresh.
func TestTokenRefresher_AtMostOneConcurrentRefresh(t *testing.T) {
	var refreshCalls int32
	started := make(chan struct{})
	release := make(chan struct{})

	refresher := newTokenRefresher(func(ctx context.Context) (string, time.Duration, error) {
		n := atomic.AddInt32(&refreshCalls, 1)
		if n == 1 {
			close(started)
			<-release
		}
		return "token-value", time.Hour, nil
	})

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i != 0 {
				<-started // caller 0 starts the refresh; the rest arrive while it is in flight
			}
			tok, err := refresher.Token(context.Background())
			require.NoError(t, err)
			results[i] = tok
		}(i)
	}

	// Let the first caller kick off the in-flight refresh, then release it
	// once every other caller is blocked waiting on the condition variable.
	go func() {
		<-started
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&refreshCalls))
	for _, tok := range results {
		assert.Equal(t, "token-value", tok)
	}
}

func TestTokenRefresher_CachesUntilExpiry(t *testing.T) {
	var refreshCalls int32
	refresher := newTokenRefresher(func(ctx context.Context) (string, time.Duration, error) {
		atomic.AddInt32(&refreshCalls, 1)
		return "token-value", time.Hour, nil
	})

	tok1, err := refresher.Token(context.Background())
	require.NoError(t, err)
	tok2, err := refresher.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tok1, tok2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&refreshCalls))
}

// The spec's 300s safety margin: a token reported to expire in exactly
// the margin's duration must be treated as already expired.
func TestTokenRefresher_ExpiryMarginApplied(t *testing.T) {
	refresher := newTokenRefresher(func(ctx context.Context) (string, time.Duration, error) {
		return "short-lived", expiryMargin, nil
	})

	_, err := refresher.Token(context.Background())
	require.NoError(t, err)

	assert.False(t, refresher.token.validAt(time.Now()))
}

func TestTokenRefresher_RefreshErrorIsNotCached(t *testing.T) {
	var calls int32
	refresher := newTokenRefresher(func(ctx context.Context) (string, time.Duration, error) {
		atomic.AddInt32(&calls, 1)
		return "", 0, assert.AnError
	})

	_, err := refresher.Token(context.Background())
	require.Error(t, err)

	_, err = refresher.Token(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}
