package httpx

import (
	"net"
	"net/http"
	"time"
)

// Client is a small wrapper around http.Client with tuned transport defaults.
// It satisfies sourceclient.HTTPClient.
type Client struct {
	HTTP    *http.Client
	Headers map[string]string
}

// DefaultHeaders are added to requests that do not set them. Exchange sites
// localise and sometimes refuse requests without a language preference.
var DefaultHeaders = map[string]string{
	"Accept-Language": "en-IN,en;q=0.9",
}

// New returns a client with an overall request timeout. A timeout <= 0 means
// 15s.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       20,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	headers := make(map[string]string, len(DefaultHeaders))
	for k, v := range DefaultHeaders {
		headers[k] = v
	}
	return &Client{HTTP: &http.Client{Timeout: timeout, Transport: transport}, Headers: headers}
}

// Do sends req after filling in headers it does not already carry.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return c.HTTP.Do(req)
}
