package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotNumeric is returned when a body expected to hold a counter value
// does not parse as a base-10 integer.
var ErrNotNumeric = errors.New("response body is not numeric")

// Response represents an HTTP response
type Response struct {
	Status  int
	Headers http.Header
	Body    string
}

// Request describes one HTTP request relative to a base URL
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    string
}

// MakeRequest issues req against baseURL using httpClient. A nil client
// gets a default one that does not follow redirects.
func MakeRequest(ctx context.Context, httpClient *http.Client, baseURL string, req Request) (*Response, error) {
	if httpClient == nil {
		httpClient = &http.Client{
			CheckRedirect: noRedirect,
		}
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if req.Body != "" {
		bodyReader = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, baseURL+req.Path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    string(bodyBytes),
	}, nil
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// ParseNumber parses a counter body.
func ParseNumber(body string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNotNumeric, body)
	}
	return n, nil
}

// Config holds the endpoints the client talks to
type Config struct {
	// BackendURL is the counting backend, e.g. http://localhost:9000
	BackendURL string
	// ProxyURL is the proxy data port, e.g. http://localhost:8080
	ProxyURL string
	// Timeout bounds each request. Zero leaves it to the transport.
	Timeout time.Duration
}

// Client issues direct requests to the backend and proxied requests through
// the forward proxy.
type Client struct {
	cfg     Config
	direct  *http.Client
	proxied *http.Client
}

// New creates a client. It fails if ProxyURL does not parse.
func New(cfg Config) (*Client, error) {
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("backend URL cannot be empty")
	}
	proxied, err := NewProxiedHTTPClient(cfg.ProxyURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg: cfg,
		direct: &http.Client{
			Timeout:       cfg.Timeout,
			CheckRedirect: noRedirect,
			Transport:     &http.Transport{DisableKeepAlives: true},
		},
		proxied: proxied,
	}, nil
}

// NewProxiedHTTPClient returns an http.Client that routes plain HTTP
// requests through proxyURL. Keep-alives are off so a restarted proxy is
// never handed a connection to its previous incarnation.
func NewProxiedHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	pu, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy URL: %w", err)
	}
	if pu.Host == "" {
		return nil, fmt.Errorf("proxy URL %q has no host", proxyURL)
	}
	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: noRedirect,
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(pu),
			DisableKeepAlives: true,
		},
	}, nil
}

// Direct fetches path straight from the backend, bypassing the proxy.
func (c *Client) Direct(ctx context.Context, path string) (string, error) {
	return c.get(ctx, c.direct, path)
}

// DirectNumber fetches / from the backend and parses the counter.
func (c *Client) DirectNumber(ctx context.Context) (int, error) {
	body, err := c.Direct(ctx, "/")
	if err != nil {
		return 0, err
	}
	return ParseNumber(body)
}

// Proxied fetches path from the backend through the proxy.
func (c *Client) Proxied(ctx context.Context, path string) (string, error) {
	return c.get(ctx, c.proxied, path)
}

// ProxiedNumber fetches / through the proxy and parses the counter.
func (c *Client) ProxiedNumber(ctx context.Context) (int, error) {
	body, err := c.Proxied(ctx, "/")
	if err != nil {
		return 0, err
	}
	return ParseNumber(body)
}

func (c *Client) get(ctx context.Context, httpClient *http.Client, path string) (string, error) {
	if path == "" {
		path = "/"
	}
	resp, err := MakeRequest(ctx, httpClient, c.cfg.BackendURL, Request{Path: path})
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusOK {
		return resp.Body, fmt.Errorf("GET %s: unexpected status %d", path, resp.Status)
	}
	return resp.Body, nil
}
