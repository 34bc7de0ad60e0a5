// Package transport is the HTTP client that talks to the upstream API
// server: TLS/bearer credential wiring plus exponential-backoff retry of
// transient (network-level) failures. Non-2xx responses are never retried
// here — they're returned to the caller as *TransportError.
package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/resourcewatch/aggregator/internal/lib"
)

type Options struct {
	BaseURL           string
	TLSConfig         *tls.Config
	BearerToken       string
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
}

type Client struct {
	http    *http.Client
	baseURL *url.URL
	bearer  string
	backoff lib.BackoffConfig
	logger  *zap.Logger
}

func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "transport: invalid base URL")
	}

	return &Client{
		http: &http.Client{
			Transport: &http.Transport{TLSClientConfig: opts.TLSConfig},
		},
		baseURL: base,
		bearer:  opts.BearerToken,
		backoff: lib.BackoffConfig{
			InitialBackoff:    opts.BackoffInitial,
			MaxBackoff:        opts.BackoffMax,
			BackoffMultiplier: opts.BackoffMultiplier,
			// No overall deadline to the backoff curve (spec requirement):
			// ResetAfter is effectively "never resets mid-retry-run".
			ResetAfter: 24 * time.Hour,
		},
		logger: logger,
	}, nil
}

// WatchQuery rewrites query, stripping any pre-existing watch/resourceVersion
// parameters before setting fresh ones, exactly as the original implementation's
// ApiWatcher::watch does before issuing a watch request.
func WatchQuery(query url.Values, sinceRevision string) url.Values {
	q := url.Values{}
	for k, v := range query {
		if k == "watch" || k == "resourceVersion" {
			continue
		}
		q[k] = v
	}
	q.Set("watch", "true")
	if sinceRevision != "" {
		q.Set("resourceVersion", sinceRevision)
	}
	return q
}

// Get performs a single request, retrying network-level failures forever
// with backoff. A non-2xx response is returned as *TransportError without
// being retried.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	resp, err := c.doWithBackoff(ctx, path, query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, errors.Wrap(readErr, "transport: reading response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewTransportError(resp.StatusCode, string(body))
	}
	return body, nil
}

// Watch establishes a long-lived streaming GET and returns the open body for
// the caller to decode frame-by-frame. The caller must Close() it.
func (c *Client) Watch(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
	resp, err := c.doWithBackoff(ctx, path, query)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, NewTransportError(resp.StatusCode, string(body))
	}
	return resp.Body, nil
}

func (c *Client) doWithBackoff(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	backoff := lib.NewBackoffManager(c.backoff)
	ref := &url.URL{Path: path}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	target := c.baseURL.ResolveReference(ref).String()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, errors.Wrap(err, "transport: building request")
		}
		if c.bearer != "" {
			req.Header.Set("Authorization", "Bearer "+c.bearer)
		}

		resp, err := c.http.Do(req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		wait := backoff.NextBackoff()
		c.logger.Warn("transport request failed, retrying",
			zap.String("url", target), zap.Error(err), zap.Duration("backoff", wait))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
