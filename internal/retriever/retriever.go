package retriever

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single feed fetch.
const DefaultTimeout = 10 * time.Second

// maxBody caps how much of a feed response is read.
const maxBody = 8 << 20

// Auth holds optional HTTP Basic credentials. A zero Auth sends no header.
type Auth struct {
	Username string
	Password string
}

// Empty reports whether no credentials are configured.
func (a Auth) Empty() bool { return a.Username == "" && a.Password == "" }

// RetrievalError is returned for every failed fetch: transport errors,
// timeouts, cancellation and non-2xx responses alike.
type RetrievalError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *RetrievalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("retrieve %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("retrieve %s: %v", e.URL, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Retriever fetches raw feed content.
type Retriever interface {
	Retrieve(ctx context.Context, url string, auth Auth) ([]byte, error)
}

// Func adapts a plain function to the Retriever interface.
type Func func(ctx context.Context, url string, auth Auth) ([]byte, error)

func (f Func) Retrieve(ctx context.Context, url string, auth Auth) ([]byte, error) {
	return f(ctx, url, auth)
}

// Options configures an HTTP retriever.
type Options struct {
	Timeout            time.Duration
	InsecureSkipVerify bool
	UserAgent          string
}

// HTTP is the production Retriever. It is safe for concurrent use.
type HTTP struct {
	client    *http.Client
	userAgent string
}

// NewHTTP builds an HTTP retriever. The client is created once and reused
// across fetches.
func NewHTTP(opts Options) *HTTP {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "cimonitor"
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // user-configured
		},
	}
	return &HTTP{
		client:    &http.Client{Transport: transport, Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
	}
}

// NewHTTPWithClient wraps an existing client (tests use httptest's).
func NewHTTPWithClient(c *http.Client) *HTTP {
	return &HTTP{client: c, userAgent: "cimonitor"}
}

// Retrieve performs a GET on url, sending Basic Auth when auth is non-empty.
func (h *HTTP) Retrieve(ctx context.Context, url string, auth Auth) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &RetrievalError{URL: url, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml, application/rss+xml, application/atom+xml, */*")
	if !auth.Empty() {
		req.SetBasicAuth(auth.Username, auth.Password)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &RetrievalError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RetrievalError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &RetrievalError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
