package auth

import (
	"context"
	"sync"
	"time"
)

const expiryMargin = 300 * time.Second

// cachedToken is a bearer token plus the time it was judged to expire
// (already reduced by expiryMargin).
type cachedToken struct {
	value   string
	expires time.Time
}

func (c cachedToken) validAt(now time.Time) bool {
	return c.value != "" && now.Before(c.expires)
}

// refreshFunc fetches a fresh token, returning the raw server-reported
// expiry (margin applied by tokenRefresher).
type refreshFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// tokenRefresher caches a bearer token and guarantees at-most-one
// concurrent refresh: a request that arrives while a refresh is in
// flight waits for it, then re-checks the cache before attempting its
// own refresh.
type tokenRefresher struct {
	mu        sync.Mutex
	cond      *sync.Cond
	refreshing bool
	token     cachedToken
	refresh   refreshFunc
}

func newTokenRefresher(refresh refreshFunc) *tokenRefresher {
	t := &tokenRefresher{refresh: refresh}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Token returns a valid bearer token, refreshing if necessary.
func (t *tokenRefresher) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	for {
		now := time.Now()
		if t.token.validAt(now) {
			tok := t.token.value
			t.mu.Unlock()
			return tok, nil
		}
		if !t.refreshing {
			break
		}
		t.cond.Wait()
	}

	t.refreshing = true
	t.mu.Unlock()

	value, expiresIn, err := t.refresh(ctx)

	t.mu.Lock()
	t.refreshing = false
	if err == nil {
		t.token = cachedToken{
			value:   value,
			expires: time.Now().Add(expiresIn - expiryMargin),
		}
	}
	t.cond.Broadcast()
	t.mu.Unlock()

	if err != nil {
		return "", err
	}
	return value, nil
}
