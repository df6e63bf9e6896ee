package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/datakitchen/observability-agent/internal/config"
	"github.com/datakitchen/observability-agent/internal/obserrors"
)

// RequestHandle is the unit of a single logical API call: a base URL
// (via its owning Client), a relative path template with named
// placeholders, a method, and an optional per-status retry policy.
type RequestHandle struct {
	client       *Client
	method       string
	pathTemplate string
	retryRules   []config.RetryRule
}

// NewHandle builds a request handle bound to client.
func (c *Client) NewHandle(method, pathTemplate string, retryRules []config.RetryRule) *RequestHandle {
	return &RequestHandle{client: c, method: method, pathTemplate: pathTemplate, retryRules: retryRules}
}

// Response is the result of Do: the final HTTP status, headers, and
// body, after whichever retry tiers applied.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do substitutes pathArgs into the path template, dispatches the
// request, and applies the three-tier retry algorithm: rate-limit
// headers, then the 401 auth-soft-failure heuristic, then configured
// per-status retry. Ordering is strict and does not compose beyond
// what each tier specifies.
func (h *RequestHandle) Do(ctx context.Context, query url.Values, body []byte, pathArgs map[string]string, headers http.Header) (*Response, error) {
	path, err := substitutePath(h.pathTemplate, pathArgs)
	if err != nil {
		return nil, obserrors.ConfigInvalid("path_args", err.Error())
	}

	fullURL := strings.TrimRight(h.client.baseURL, "/") + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	resp, err := h.dispatch(ctx, fullURL, body, headers)
	if err != nil {
		return nil, obserrors.TransientNetwork(err)
	}

	resp, err = h.applyRateLimitRetry(ctx, resp, fullURL, body, headers)
	if err != nil {
		return nil, err
	}

	resp, err = h.applyAuthSoftFailureRetry(ctx, resp, fullURL, body, headers)
	if err != nil {
		return nil, err
	}

	resp, err = h.applyConfiguredStatusRetry(ctx, resp, fullURL, body, headers)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func substitutePath(template string, args map[string]string) (string, error) {
	out := template
	for name, value := range args {
		out = strings.ReplaceAll(out, "{"+name+"}", url.PathEscape(value))
	}
	if strings.Contains(out, "{") && strings.Contains(out, "}") {
		return "", fmt.Errorf("unfilled path placeholder in %q", out)
	}
	return out, nil
}

func (h *RequestHandle) dispatch(ctx context.Context, fullURL string, body []byte, headers http.Header) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, h.method, fullURL, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if h.client.auth != nil {
		if err := h.client.auth.Apply(ctx, req); err != nil {
			return nil, err
		}
	}
	if h.client.limiter != nil {
		if err := h.client.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	httpResp, err := h.client.breaker.Execute(func() (*http.Response, error) {
		return h.client.http.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: respBody}, nil
}

var rateLimitHeaders = []string{"X-RateLimit-Reset", "RateLimit-Reset", "X-Rate-Limit-Reset"}

// applyRateLimitRetry implements step 3 of §4.2: if a rate-limit header
// carries a nonzero value, sleep the computed wait (clamped to
// read_timeout) and replay. The replay recurses through this same rule,
// so a rate-limit header present on the replay triggers a further wait
// and replay, matching the original's recursive self.handle(...) call.
func (h *RequestHandle) applyRateLimitRetry(ctx context.Context, resp *Response, fullURL string, body []byte, headers http.Header) (*Response, error) {
	wait, ok := parseRateLimitWait(resp.Header, h.client.cfg.ReadTimeout)
	if !ok {
		return resp, nil
	}

	select {
	case <-ctx.Done():
		return resp, ctx.Err()
	case <-time.After(wait):
	}

	replayed, err := h.dispatch(ctx, fullURL, body, headers)
	if err != nil {
		return nil, obserrors.TransientNetwork(err)
	}
	return h.applyRateLimitRetry(ctx, replayed, fullURL, body, headers)
}

func parseRateLimitWait(header http.Header, readTimeout time.Duration) (time.Duration, bool) {
	for _, name := range rateLimitHeaders {
		raw := header.Get(name)
		if raw == "" {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value == 0 {
			continue
		}

		var waitSeconds float64
		if value > 86400 {
			waitSeconds = value - float64(time.Now().Unix())
		} else {
			waitSeconds = value
		}
		if waitSeconds <= 0 {
			continue
		}

		wait := time.Duration(waitSeconds * float64(time.Second))
		if readTimeout > 0 && wait > readTimeout {
			wait = readTimeout
		}
		return wait, true
	}
	return 0, false
}

const authSoftFailureSubstring = "please try again in a bit"
const authSoftFailureMaxRetries = 3

// applyAuthSoftFailureRetry implements step 4 of §4.2.
func (h *RequestHandle) applyAuthSoftFailureRetry(ctx context.Context, resp *Response, fullURL string, body []byte, headers http.Header) (*Response, error) {
	if resp.StatusCode != http.StatusUnauthorized || !bytes.Contains(resp.Body, []byte(authSoftFailureSubstring)) {
		return resp, nil
	}

	current := resp
	for i := 1; i <= authSoftFailureMaxRetries; i++ {
		wait := time.Duration(0.5*math.Pow(2, float64(i-1)) * float64(time.Second))
		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-time.After(wait):
		}

		replayed, err := h.dispatch(ctx, fullURL, body, headers)
		if err != nil {
			return nil, obserrors.TransientNetwork(err)
		}
		current = replayed
		if current.StatusCode != http.StatusUnauthorized || !bytes.Contains(current.Body, []byte(authSoftFailureSubstring)) {
			return current, nil
		}
	}
	// Exhausted retries; return the final response regardless, per spec.
	return current, nil
}

// applyConfiguredStatusRetry implements step 5 of §4.2: retry up to
// retry_count times with backoff_multiplier·2^(i-1) seconds, stopping
// as soon as the status changes.
func (h *RequestHandle) applyConfiguredStatusRetry(ctx context.Context, resp *Response, fullURL string, body []byte, headers http.Header) (*Response, error) {
	rule, ok := matchRetryRule(h.retryRules, resp.StatusCode)
	if !ok {
		return resp, nil
	}

	current := resp
	matchedStatus := resp.StatusCode
	for i := 1; i <= rule.RetryCount; i++ {
		wait := time.Duration(rule.BackoffMultiplier*math.Pow(2, float64(i-1)) * float64(time.Second))
		select {
		case <-ctx.Done():
			return current, ctx.Err()
		case <-time.After(wait):
		}

		replayed, err := h.dispatch(ctx, fullURL, body, headers)
		if err != nil {
			return nil, obserrors.TransientNetwork(err)
		}
		current = replayed
		if current.StatusCode != matchedStatus {
			return current, nil
		}
	}
	return current, nil
}

func matchRetryRule(rules []config.RetryRule, status int) (config.RetryRule, bool) {
	for _, r := range rules {
		if r.Status == status {
			return r, true
		}
	}
	return config.RetryRule{}, false
}
