// Package httpconn implements the outbound HTTP safety connector:
// scheme/private-range/domain gating against SSRF, header scrubbing, a
// streaming size cap, and a single request timeout, wrapped in a circuit
// breaker and rate limiter, mirroring internal/engine/reliability.go and
// middleware.go's ProtectedConnector, which wraps an outbound call in
// exactly this gobreaker+rate.Limiter combination.
package httpconn

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/coreflux/toolgateway/internal/errkind"
	"github.com/coreflux/toolgateway/internal/registry"
	"github.com/coreflux/toolgateway/internal/schema"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Config is the static configuration for the HTTP connector.
type Config struct {
	AllowedDomains     []string
	DeniedDomains      []string
	MaxResponseBytes   int64
	TimeoutMs          int64
	RateLimitPerSecond float64
	RateLimitBurst     int

	// OnBreakerStateChange, if set, is invoked whenever the circuit
	// breaker transitions state, so a caller can mirror it onto a
	// gateway_circuit_breaker_state gauge.
	OnBreakerStateChange func(from, to gobreaker.State)
}

var (
	localHosts = map[string]bool{
		"localhost": true, "127.0.0.1": true, "0.0.0.0": true, "::1": true,
	}

	privateRangePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^10\.`),
		regexp.MustCompile(`^172\.(1[6-9]|2\d|3[01])\.`),
		regexp.MustCompile(`^192\.168\.`),
		regexp.MustCompile(`^169\.254\.`),
	}

	scrubbedHeaders = map[string]bool{
		"authorization": true, "cookie": true, "x-api-key": true, "api-key": true,
	}

	responseHeaderAllowlist = []string{"Content-Type", "Content-Length", "Last-Modified", "Etag"}
)

// Connector holds Config plus the reliability wrapping shared by every
// fetch: a rate limiter to cap outbound traffic and a circuit breaker
// that opens after a run of consecutive backend failures.
type Connector struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// New constructs a Connector over cfg.
func New(cfg Config) *Connector {
	limit := cfg.RateLimitPerSecond
	if limit <= 0 {
		limit = 10
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "web.fetch",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if cfg.OnBreakerStateChange != nil {
				cfg.OnBreakerStateChange(from, to)
			}
		},
	})

	return &Connector{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(limit), burst),
		breaker: breaker,
	}
}

// Tool returns the web.fetch tool.
func (c *Connector) Tool() registry.Tool {
	return registry.Tool{
		Name:        "web.fetch",
		Description: "Fetch a URL confined to the configured domain allowlist.",
		InputSchema: schema.Object(
			schema.P("url", schema.String()),
			schema.P("headers", schema.Map(schema.String()).OptionalField()),
		),
		Handler: c.fetch,
	}
}

func (c *Connector) fetch(ctx context.Context, args map[string]any) (any, error) {
	rawURL, _ := args["url"].(string)
	headers, _ := args["headers"].(map[string]any)

	target, err := c.gate(rawURL)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(c.cfg.TimeoutMs) * time.Millisecond
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.limiter.Wait(reqCtx); err != nil {
		return nil, errkind.Wrap(errkind.Timeout, "rate limit wait exceeded deadline", err)
	}

	result, breakerErr := c.breaker.Execute(func() (interface{}, error) {
		return c.do(reqCtx, target, headers)
	})
	if breakerErr != nil {
		if kerr, ok := errkind.As(breakerErr); ok {
			return nil, kerr
		}
		if reqCtx.Err() != nil {
			return nil, errkind.Wrap(errkind.Timeout, "request deadline exceeded", breakerErr)
		}
		return nil, errkind.Wrap(errkind.ConnectorError, "fetch failed", breakerErr)
	}
	return result, nil
}

func (c *Connector) do(ctx context.Context, target *url.URL, headers map[string]any) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConnectorError, "build request failed", err)
	}
	for k, v := range headers {
		if scrubbedHeaders[strings.ToLower(k)] {
			continue
		}
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}
	req.Header.Set("User-Agent", "compliance-gateway/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errkind.Wrap(errkind.Timeout, "request deadline exceeded", err)
		}
		return nil, errkind.Wrap(errkind.ConnectorError, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength > 0 && c.cfg.MaxResponseBytes > 0 && resp.ContentLength > c.cfg.MaxResponseBytes {
		return nil, errkind.New(errkind.MaxBytesExceeded, "content-length exceeds max_response_bytes")
	}

	maxBytes := c.cfg.MaxResponseBytes
	limited := io.LimitReader(resp.Body, maxBytes+1)
	body, readErr := io.ReadAll(limited)
	if readErr != nil {
		if ctx.Err() != nil {
			return nil, errkind.Wrap(errkind.Timeout, "request deadline exceeded", readErr)
		}
		return nil, errkind.Wrap(errkind.ConnectorError, "body read failed", readErr)
	}
	if maxBytes > 0 && int64(len(body)) > maxBytes {
		return nil, errkind.New(errkind.MaxBytesExceeded, "response body exceeds max_response_bytes")
	}

	whitelisted := map[string]string{}
	for _, h := range responseHeaderAllowlist {
		if v := resp.Header.Get(h); v != "" {
			whitelisted[h] = v
		}
	}

	return map[string]any{
		"url":        resp.Request.URL.String(),
		"status":     resp.StatusCode,
		"statusText": resp.Status,
		"headers":    whitelisted,
		"body":       string(body),
		"size":       len(body),
	}, nil
}

// gate parses and validates rawURL per the SSRF-gating rules: scheme,
// local/private-range hostnames, denied_domains, then require a match in
// allowed_domains.
func (c *Connector) gate(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errkind.Wrap(errkind.SecurityError, "invalid url", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errkind.New(errkind.SecurityError, fmt.Sprintf("scheme not allowed: %s", parsed.Scheme))
	}

	host := strings.ToLower(parsed.Hostname())
	if localHosts[host] {
		return nil, errkind.New(errkind.SecurityError, fmt.Sprintf("host is a local address: %s", host))
	}
	for _, pattern := range privateRangePatterns {
		if pattern.MatchString(host) {
			return nil, errkind.New(errkind.SecurityError, fmt.Sprintf("host is in a private range: %s", host))
		}
	}
	for _, denied := range c.cfg.DeniedDomains {
		if domainMatches(host, denied) {
			return nil, errkind.New(errkind.SecurityError, fmt.Sprintf("host matches denied_domains: %s", denied))
		}
	}

	if len(c.cfg.AllowedDomains) == 0 {
		return nil, errkind.New(errkind.SecurityError, "allowed_domains is empty")
	}
	for _, allowed := range c.cfg.AllowedDomains {
		if domainMatches(host, allowed) {
			return parsed, nil
		}
	}
	return nil, errkind.New(errkind.SecurityError, fmt.Sprintf("host does not match allowed_domains: %s", host))
}

// domainMatches reports whether host is entry or a subdomain of it. An
// entry of "*.foo" matches "foo" and any subdomain of "foo"; a plain
// "foo.com" matches "foo.com" and subdomains of it.
func domainMatches(host, entry string) bool {
	entry = strings.ToLower(entry)
	base := strings.TrimPrefix(entry, "*.")
	if host == base {
		return true
	}
	return strings.HasSuffix(host, "."+base)
}
