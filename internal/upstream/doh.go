// Package upstream implements the DNS-over-HTTPS client used to forward
// queries the resolver engine does not answer itself.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

const dnsMessageContentType = "application/dns-message"

// DefaultEndpoint is the upstream DoH resolver the proxy forwards to.
const DefaultEndpoint = "https://1.1.1.1/dns-query"

// Client sends opaque DNS wire bytes to a single upstream DoH resolver and
// returns the opaque wire response, reusing one persistent HTTP/2-capable
// client across every concurrent resolver handler task.
type Client struct {
	endpoint string
	http     *http.Client
}

// Options configures the upstream client's transport.
type Options struct {
	// Endpoint is the DoH URL to POST queries to. Defaults to DefaultEndpoint.
	Endpoint string
	// DialTimeout bounds establishing the TCP+TLS connection to the upstream.
	DialTimeout time.Duration
	// RequestTimeout bounds one query round-trip. Zero means no timeout
	// beyond what the transport enforces.
	RequestTimeout time.Duration
}

// New builds a Client with HTTP/2 enabled and system trust roots, rejecting
// any redirect to a plaintext endpoint.
func New(opts Options) (*Client, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout: dialTimeout,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        128,
		MaxIdleConnsPerHost: 128,
		IdleConnTimeout:     90 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("upstream: configure http2: %w", err)
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   opts.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Scheme != "https" {
				return fmt.Errorf("upstream: refusing redirect to non-https URL %s", req.URL)
			}
			return nil
		},
	}

	return &Client{endpoint: endpoint, http: httpClient}, nil
}

// Query POSTs msg to the upstream DoH endpoint and returns the response
// body, which is itself a complete DNS wire message.
func (c *Client) Query(ctx context.Context, msg []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(msg))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("content-type", dnsMessageContentType)
	req.Header.Set("accept", dnsMessageContentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("upstream: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("upstream: read response: %w", err)
	}

	return body, nil
}

// Endpoint returns the upstream URL this client queries.
func (c *Client) Endpoint() string {
	return c.endpoint
}
