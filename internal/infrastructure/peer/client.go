// Package peer holds the HTTP clients one service uses to call another. Every call carries the
// internal token and the W3C trace context, runs with a per-attempt timeout and retries only
// what is safe to retry.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	HeaderInternalToken  = "X-Internal-Token"
	HeaderIdempotencyKey = "Idempotency-Key"

	// CodeInsufficientStock is the error code the inventory service puts on a 400.
	CodeInsufficientStock = "INSUFFICIENT_STOCK"

	maxBody = 1 << 20
)

type Options struct {
	BaseURL       string
	InternalToken string
	// Timeout bounds each attempt, not the whole call.
	Timeout    time.Duration
	Retry      retry.Policy
	HTTPClient *http.Client
}

type Client struct {
	name    string
	base    string
	token   string
	timeout time.Duration
	policy  retry.Policy
	http    *http.Client
}

func New(name string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = retry.Default
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Client{
		name:    name,
		base:    strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.InternalToken,
		timeout: opts.Timeout,
		policy:  opts.Retry,
		http:    opts.HTTPClient,
	}
}

// StatusError is a non-2xx answer from a peer.
type StatusError struct {
	Peer    string
	Method  string
	Path    string
	Code    int
	ErrCode string
	Message string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	return fmt.Sprintf("%s %s %s: %d %s", e.Peer, e.Method, e.Path, e.Code, msg)
}

func (e *StatusError) retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusConflict || e.Code == http.StatusTooManyRequests
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Do sends one JSON request, retrying transport errors, 5xx, 409 and 429. The returned error
// wraps an apperr sentinel so callers classify it with errors.Is.
func (c *Client) Do(ctx context.Context, method, path string, headers map[string]string, in, out any) error {
	payload, err := c.encode(in)
	if err != nil {
		return err
	}
	err = retry.Do(ctx, c.policy, func(ctx context.Context, _ int) error {
		return c.attempt(ctx, method, path, headers, payload, out)
	})
	return c.classify(err)
}

// DoOnce sends the request a single time. Use it for calls the remote side cannot deduplicate,
// where a lost response must not be followed by a second identical request.
func (c *Client) DoOnce(ctx context.Context, method, path string, headers map[string]string, in, out any) error {
	payload, err := c.encode(in)
	if err != nil {
		return err
	}
	return c.classify(c.attempt(ctx, method, path, headers, payload, out))
}

func (c *Client) encode(in any) ([]byte, error) {
	if in == nil {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", c.name, err)
	}
	return b, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, headers map[string]string, payload []byte, out any) error {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(actx, method, c.base+path, body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%s: build request: %w", c.name, err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set(HeaderInternalToken, c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(err)
		}
		return fmt.Errorf("%s: %s %s: %w", c.name, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", c.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Peer: c.name, Method: method, Path: path, Code: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			se.Message, se.ErrCode = eb.Message, eb.Code
		}
		if se.retryable() {
			return se
		}
		return retry.Permanent(se)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return retry.Permanent(fmt.Errorf("%s: decode response: %w", c.name, err))
		}
	}
	return nil
}

func (c *Client) classify(err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return apperr.Upstream(c.name, err)
	}
	switch {
	case se.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, se)
	case se.Code == http.StatusBadRequest && se.ErrCode == CodeInsufficientStock:
		return fmt.Errorf("%w: %w", apperr.ErrInsufficientStock, se)
	case se.Code == http.StatusBadRequest || se.Code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", apperr.ErrValidation, se)
	case se.Code == http.StatusConflict:
		return fmt.Errorf("%w: %w", apperr.ErrConflict, se)
	default:
		return apperr.Upstream(c.name, se)
	}
}
