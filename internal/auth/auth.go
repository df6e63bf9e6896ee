// Package auth implements the four pluggable authentication variants
// attached to an outbound HTTP client: a static token, HTTP Basic, and
// two OAuth client-credentials-style flows against Azure AD, all
// behind a single Authenticator interface the request handle calls
// before dispatch.
//
// Grounded on infrastructure/serviceauth/serviceauth.go for the
// "capability object attached to a client, applied per-request" shape,
// and infrastructure/cache/cache.go's TTL-entry cache for the token
// cache backing the two OAuth variants — narrowed from a general
// versioned key/value cache to a single cached token per authenticator
// instance, since each authenticator owns exactly one credential.
package auth

import (
	"context"
	"net/http"
)

// Authenticator applies credentials to an outbound request. Apply may
// block on a token refresh.
type Authenticator interface {
	Apply(ctx context.Context, req *http.Request) error
}

// NoAuth applies no credentials; used for unauthenticated targets.
type NoAuth struct{}

func (NoAuth) Apply(context.Context, *http.Request) error { return nil }
