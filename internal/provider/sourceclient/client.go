package sourceclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"stockadvisor/internal/provider"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=sourceclient_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultUserAgent is sent unless overridden. Several exchange endpoints
// refuse requests without a browser identification.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const (
	defaultMaxBody    = 4 << 20
	defaultSessionTTL = 5 * time.Minute
)

// Request is one data-bearing GET.
type Request struct {
	URL string
	// Handshake, when set, is fetched first to obtain session cookies that
	// are then sent with URL. Sessions are reused for the session TTL.
	Handshake string
	Header    http.Header
}

// Client performs source requests with browser-like headers, optional cookie
// handshakes and uniform status classification.
type Client struct {
	// httpClient is the HTTP client.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header     http.Header
	maxBody    int64
	sessionTTL time.Duration
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]session // key: handshake URL
	sf       singleflight.Group
}

type session struct {
	cookies []*http.Cookie
	expires time.Time
}

// ClientOption is a configuration option for the source client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithUserAgent replaces the default browser User-Agent.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.header.Set("User-Agent", ua)
		}
	}
}

// WithSessionTTL sets how long handshake cookies are reused.
func WithSessionTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl > 0 {
			c.sessionTTL = ttl
		}
	}
}

// WithMaxBody caps how many response bytes are read.
func WithMaxBody(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// New creates a source client.
func New(options ...ClientOption) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		header:     http.Header{},
		maxBody:    defaultMaxBody,
		sessionTTL: defaultSessionTTL,
		now:        time.Now,
		sessions:   map[string]session{},
	}
	c.header.Set("User-Agent", DefaultUserAgent)
	c.header.Set("Accept-Language", "en-US,en;q=0.9")
	for _, option := range options {
		option(c)
	}
	return c
}

// Get performs r and returns the response body of a 200 response.
//
// 401, 403 and 429 wrap provider.ErrBlocked, 404 wraps provider.ErrNotFound,
// every other non-200 status is a *provider.StatusError.
func (c *Client) Get(ctx context.Context, r Request) ([]byte, error) {
	var cookies []*http.Cookie
	if r.Handshake != "" {
		var err error
		cookies, err = c.session(ctx, r.Handshake)
		if err != nil {
			return nil, fmt.Errorf("handshake: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.applyHeaders(req, r.Header)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if err := statusErr(res.StatusCode, r.URL); err != nil {
		if r.Handshake != "" && res.StatusCode != http.StatusNotFound {
			c.dropSession(r.Handshake)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

func (c *Client) session(ctx context.Context, handshake string) ([]*http.Cookie, error) {
	c.mu.Lock()
	s, ok := c.sessions[handshake]
	c.mu.Unlock()
	if ok && c.now().Before(s.expires) {
		return s.cookies, nil
	}

	v, err, _ := c.sf.Do(handshake, func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, handshake, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		c.applyHeaders(req, nil)
		res, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("performing request: %w", err)
		}
		defer res.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, c.maxBody))
		if err := statusErr(res.StatusCode, handshake); err != nil {
			return nil, err
		}
		cookies := res.Cookies()
		c.mu.Lock()
		c.sessions[handshake] = session{cookies: cookies, expires: c.now().Add(c.sessionTTL)}
		c.mu.Unlock()
		return cookies, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*http.Cookie), nil
}

func (c *Client) dropSession(handshake string) {
	c.mu.Lock()
	delete(c.sessions, handshake)
	c.mu.Unlock()
}

func (c *Client) applyHeaders(req *http.Request, extra http.Header) {
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range extra {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

func statusErr(code int, url string) error {
	switch code {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", provider.ErrBlocked, &provider.StatusError{Code: code, URL: url})
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", provider.ErrNotFound, &provider.StatusError{Code: code, URL: url})
	default:
		return &provider.StatusError{Code: code, URL: url}
	}
}
