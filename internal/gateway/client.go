// Package gateway talks to the field delineation, identity, season field,
// imagery and field creation services.
//
// Every call is bounded by Config.Timeout and guarded by a circuit breaker per
// upstream. Calls to the billed delineation API also pass a rate limiter.
// Failures are typed: compare with errors.Is against the Err* values, or
// errors.As against *StatusError.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/joeblew999/plat-field/internal/logging"
	"github.com/joeblew999/plat-field/internal/metrics"
)

const (
	upstreamDelineation = "delineation"
	upstreamIdentity    = "identity"
	upstreamGeosys      = "geosys"
	upstreamCreation    = "creation"
)

const maxResponseBody = 32 << 20

// Client is safe for concurrent use.
type Client struct {
	cfg      Config
	http     *http.Client
	breakers map[string]*gobreaker.CircuitBreaker[[]byte]
	limiter  *rate.Limiter
	now      func() time.Time

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithClock replaces time.Now for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.DelineationRPS), cfg.DelineationBurst),
		now:     time.Now,
	}
	c.breakers = map[string]*gobreaker.CircuitBreaker[[]byte]{
		upstreamDelineation: newBreaker(upstreamDelineation, cfg),
		upstreamIdentity:    newBreaker(upstreamIdentity, cfg),
		upstreamGeosys:      newBreaker(upstreamGeosys, cfg),
		upstreamCreation:    newBreaker(upstreamCreation, cfg),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// BreakerStates reports each upstream breaker as closed, half-open or open.
func (c *Client) BreakerStates() map[string]string {
	out := make(map[string]string, len(c.breakers))
	for name, cb := range c.breakers {
		out[name] = stateToString(cb.State())
	}
	return out
}

type request struct {
	op          string
	upstream    string
	method      string
	url         string
	body        []byte
	contentType string
	bearer      string
	// limited requests wait on the delineation rate limiter first.
	limited bool
}

// do sends r through the upstream breaker and returns the response body of a
// 2xx response.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if r.limited {
		if err := c.limiter.Wait(ctx); err != nil {
			// Wait fails early when the deadline cannot be met.
			if !errors.Is(ctx.Err(), context.Canceled) {
				err = context.DeadlineExceeded
			}
			return nil, c.fail(ctx, r, start, err)
		}
	}

	body, err := c.breakers[r.upstream].Execute(func() ([]byte, error) {
		var rd io.Reader
		if r.body != nil {
			rd = bytes.NewReader(r.body)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, r.url, rd)
		if err != nil {
			return nil, err
		}
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}
		if r.bearer != "" {
			req.Header.Set("Authorization", "Bearer "+r.bearer)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{Op: r.op, Status: resp.StatusCode, Body: readBodyForError(resp.Body)}
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	})

	elapsed := time.Since(start)
	metrics.GatewayDuration.WithLabelValues(r.op).Observe(elapsed.Seconds())
	if err != nil {
		return nil, c.fail(ctx, r, start, err)
	}

	metrics.GatewayRequests.WithLabelValues(r.op, "success").Inc()
	logging.Ctx(ctx).Debug().Str("op", r.op).Int("bytes", len(body)).Dur("elapsed", elapsed).Msg("gateway call")
	return body, nil
}

// fail classifies err, counts it and logs it.
func (c *Client) fail(ctx context.Context, r request, start time.Time, err error) error {
	err = classify(r, err)
	outcome := "error"
	if errors.Is(err, ErrUnavailable) {
		outcome = "rejected"
	}
	metrics.GatewayRequests.WithLabelValues(r.op, outcome).Inc()
	logging.Ctx(ctx).Warn().Err(err).Str("op", r.op).Dur("elapsed", time.Since(start)).Msg("gateway call failed")
	return err
}

// classify maps transport failures onto the Err* values. A 401 or 403 on a
// bearer request is ErrAuth and still unwraps to its *StatusError.
func classify(r request, err error) error {
	op := r.op
	var se *StatusError
	switch {
	case errors.As(err, &se) && r.bearer != "" && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden):
		return fmt.Errorf("%s: %w: %w", op, ErrAuth, se)
	case errors.As(err, &se):
		return se
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// bearer returns the cached token or ErrAuth without touching the network.
func (c *Client) bearer(op string) (string, error) {
	tok := c.Token()
	if tok == "" {
		metrics.GatewayRequests.WithLabelValues(op, "error").Inc()
		return "", fmt.Errorf("%s: %w", op, ErrAuth)
	}
	return tok, nil
}
