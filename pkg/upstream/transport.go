// Package upstream contains the client for the upstream conversational
// backend: the stealth transport contract, payload construction, typed
// errors, and the classification of upstream failures that drives the
// orchestrator's retry policy.
package upstream

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Request is one outbound upstream call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    io.Reader

	// ProxyAddress routes the call through an egress proxy. Empty means
	// direct egress.
	ProxyAddress string
}

// Response is the raw result of an upstream call. Body must be closed by the
// caller.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       io.ReadCloser
}

// Transport performs upstream HTTP calls with a browser-shaped TLS/HTTP
// fingerprint. The fingerprinting client is an external capability; the core
// depends only on this contract.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport is the plain net/http implementation of Transport, used in
// tests and in deployments that front the gateway with an external
// fingerprinting layer. One client is cached per proxy address so connection
// pools are reused across calls.
type HTTPTransport struct {
	timeout time.Duration
	clients clientCache
}

// NewHTTPTransport creates a Transport backed by net/http. A zero timeout
// means no client-level timeout; per-call deadlines come from the context.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{timeout: timeout}
}

// Do performs the request, routing through the proxy if one is set.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	client, err := t.clients.get(req.ProxyAddress, t.timeout)
	if err != nil {
		return nil, &TransportError{Op: "proxy", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, req.Body)
	if err != nil {
		return nil, &TransportError{Op: "request", Cause: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "do", Cause: err}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       resp.Body,
	}, nil
}

// clientCache caches one http.Client per proxy address.
type clientCache struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

func (c *clientCache) get(proxyAddress string, timeout time.Duration) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clients == nil {
		c.clients = make(map[string]*http.Client)
	}
	if client, ok := c.clients[proxyAddress]; ok {
		return client, nil
	}

	transport := &http.Transport{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if proxyAddress != "" {
		proxyURL, err := url.Parse(proxyAddress)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
	c.clients[proxyAddress] = client
	return client, nil
}
