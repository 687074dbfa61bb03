// Package classifier invokes the remote text-generation service with a
// bounded timeout and at most one retry.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/elum-utils/gatekeeper/interfaces"
	"github.com/elum-utils/gatekeeper/models"
)

const (
	defaultTimeout    = 5 * time.Second
	maxTimeout        = 60 * time.Second
	defaultRetryDelay = 200 * time.Millisecond
	maxRetries        = 1
)

// Options configure the client.
type Options struct {
	Generator  interfaces.Generator
	Timeout    time.Duration
	RetryDelay time.Duration
	Logger     interfaces.Logger
	Metrics    interfaces.Metrics
}

// Client is safe for concurrent use; it only holds configuration.
type Client struct {
	gen        interfaces.Generator
	timeout    time.Duration
	retryDelay time.Duration
	logger     interfaces.Logger
	metrics    interfaces.Metrics
}

// New creates a client. A zero timeout defaults to 5s.
func New(opt Options) (*Client, error) {
	if opt.Generator == nil {
		return nil, errors.New("classifier: generator is nil")
	}
	if opt.Timeout < 0 || opt.Timeout > maxTimeout {
		return nil, fmt.Errorf("classifier: timeout %s out of range (0, %s]", opt.Timeout, maxTimeout)
	}
	c := &Client{
		gen:        opt.Generator,
		timeout:    defaultTimeout,
		retryDelay: defaultRetryDelay,
		logger:     opt.Logger,
		metrics:    opt.Metrics,
	}
	if opt.Timeout > 0 {
		c.timeout = opt.Timeout
	}
	if opt.RetryDelay > 0 {
		c.retryDelay = opt.RetryDelay
	}
	return c, nil
}

// Provider returns the generator name.
func (c *Client) Provider() string { return c.gen.Name() }

// Classify returns the raw classifier output for req. Any failure is a
// *models.ClassifierUnavailableError.
func (c *Client) Classify(ctx context.Context, req models.Request) (string, error) {
	prompt := BuildPrompt(req)

	var (
		raw     string
		attempt int
	)
	op := func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		start := time.Now()
		out, err := c.gen.Generate(actx, prompt)
		elapsed := time.Since(start)
		if err == nil {
			c.observe("ok", elapsed)
			raw = out
			return nil
		}

		uerr := c.unavailable(actx, err)
		c.observe(statusLabel(uerr), elapsed)
		c.logWarn("classifier attempt failed", map[string]any{
			"provider": c.gen.Name(),
			"attempt":  attempt,
			"status":   uerr.StatusCode,
			"error":    uerr.Error(),
		})
		if ctx.Err() != nil || !uerr.Retryable() {
			return backoff.Permanent(uerr)
		}
		return uerr
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), maxRetries),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		var uerr *models.ClassifierUnavailableError
		if errors.As(err, &uerr) {
			return "", uerr
		}
		return "", &models.ClassifierUnavailableError{Provider: c.gen.Name(), Err: err}
	}
	return raw, nil
}

func (c *Client) unavailable(actx context.Context, err error) *models.ClassifierUnavailableError {
	var uerr *models.ClassifierUnavailableError
	if errors.As(err, &uerr) {
		if uerr.Provider == "" {
			uerr.Provider = c.gen.Name()
		}
		return uerr
	}
	if errors.Is(actx.Err(), context.DeadlineExceeded) {
		return &models.ClassifierUnavailableError{
			Provider: c.gen.Name(),
			Err:      fmt.Errorf("timeout after %s: %w", c.timeout, err),
		}
	}
	return &models.ClassifierUnavailableError{Provider: c.gen.Name(), Err: err}
}

func statusLabel(err *models.ClassifierUnavailableError) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case err.StatusCode != 0:
		return fmt.Sprintf("http_%d", err.StatusCode)
	default:
		return "transport_error"
	}
}

func (c *Client) observe(status string, elapsed time.Duration) {
	if c.metrics != nil {
		c.metrics.ObserveClassifierCall(c.gen.Name(), status, elapsed)
	}
}

func (c *Client) logWarn(msg string, fields map[string]any) {
	if c.logger != nil {
		c.logger.Warn(msg, fields)
	}
}
