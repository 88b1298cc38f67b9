package fetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cepalstack/cepalstack/internal/config"
)

// maxBody caps how much of a response is read; indicator exports are a few MB.
const maxBody = 256 << 20

// NetworkError reports a request that failed at the transport level, timed
// out, or returned a non-2xx status.
type NetworkError struct {
	URL string
	// StatusCode is zero when no response was received.
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Client requests indicator metadata and records from the CEPALSTAT API.
// It builds its http.Client once and reuses it across calls.
type Client struct {
	base   string
	lang   string
	client *http.Client
}

// New returns a Client for the given API configuration.
func New(cfg config.APIConfig) (*Client, error) {
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("fetcher: parse base url: %w", err)
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		lang:   cfg.Lang,
		client: buildHTTPClient(cfg),
	}, nil
}

// Metadata returns the CSV metadata export of one indicator.
func (c *Client) Metadata(ctx context.Context, id string) (string, error) {
	return c.get(ctx, c.indicatorURL(id, "metadata", nil))
}

// Records returns the CSV records export of one indicator. The members
// parameter is sent empty so the API returns every dimension member.
func (c *Client) Records(ctx context.Context, id string) (string, error) {
	return c.get(ctx, c.indicatorURL(id, "records", url.Values{"members": {""}}))
}

func (c *Client) indicatorURL(id, resource string, extra url.Values) string {
	q := url.Values{}
	q.Set("lang", c.lang)
	q.Set("format", "csv")
	for k, vs := range extra {
		q[k] = vs
	}
	return fmt.Sprintf("%s/indicator/%s/%s?%s", c.base, url.PathEscape(id), resource, q.Encode())
}

// get performs an HTTP GET to u and returns the body as text.
func (c *Client) get(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", &NetworkError{URL: u, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &NetworkError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", &NetworkError{URL: u, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", &NetworkError{URL: u, Err: fmt.Errorf("read body: %w", err)}
	}
	return string(body), nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the API's auth and TLS settings.
func buildHTTPClient(cfg config.APIConfig) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	return &http.Client{
		Transport: &authRoundTripper{base: base, auth: cfg.Auth},
		Timeout:   cfg.Timeout,
	}
}
