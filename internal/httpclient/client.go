// Package httpclient builds the reusable outbound HTTP client every
// tool adapter dials target-tool APIs through: one overall request
// timeout (the sum of the configured connect, read and write timeouts),
// pool limits, TLS verification modes, and a gobreaker circuit breaker,
// topped by request handles that apply the three-tier retry algorithm
// (rate-limit headers, the 401 auth-soft-failure heuristic, configured
// per-status retry). The configured connection-retry count and pool
// timeout are not applied: a failed connection is not retried by the
// transport.
//
// Grounded on infrastructure/httputil/client.go for the ClientConfig/
// NewClient shape (timeout defaults, base URL handling) and
// infrastructure/resilience/resilience.go for the gobreaker
// wiring, generalized from those packages' service-to-service-mesh
// framing to arbitrary third-party REST APIs with named path
// placeholders (neither teacher package has a request-handle or
// retry-by-response-content concept — that part is written fresh from
// the algorithm this runtime requires).
package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"os"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/datakitchen/observability-agent/internal/auth"
	"github.com/datakitchen/observability-agent/internal/config"
)

// Client wraps a stdlib *http.Client with a circuit breaker and an
// optional local rate limiter, bound to one tool's base URL and auth.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	limiter *rate.Limiter
	auth    auth.Authenticator
	baseURL string
	cfg     config.HTTPConfig
}

// NewClient builds a Client from a resolved HTTPConfig, the tool's base
// URL, and its authenticator (nil for unauthenticated targets).
func NewClient(cfg config.HTTPConfig, baseURL string, authenticator auth.Authenticator) (*Client, error) {
	transport := &http.Transport{
		MaxConnsPerHost:     cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.MaxKeepAlive,
		IdleConnTimeout:     cfg.KeepAliveExpiry,
		ForceAttemptHTTP2:   cfg.HTTP2,
	}

	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	transport.TLSClientConfig = tlsCfg

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout + cfg.WriteTimeout,
	}
	if !cfg.FollowRedirects {
		httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), burst)
	}

	return &Client{
		http:    httpClient,
		breaker: breaker,
		limiter: limiter,
		auth:    authenticator,
		baseURL: baseURL,
		cfg:     cfg,
	}, nil
}

func buildTLSConfig(cfg config.HTTPConfig) (*tls.Config, error) {
	switch cfg.TLSVerify {
	case "off":
		return &tls.Config{InsecureSkipVerify: true}, nil
	case "ca_file":
		pem, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(pem)
		return &tls.Config{RootCAs: pool}, nil
	default:
		return nil, nil
	}
}
