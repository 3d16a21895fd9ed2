// Package transport builds the HTTP clients the connector uses for calls to
// the Jilt API and the WooCommerce REST API.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// NewHTTPClient returns an http.Client bounded by timeout. With chrome set,
// TLS handshakes carry a Chrome ClientHello instead of Go's, for store hosts
// whose edge throttles non-browser fingerprints.
func NewHTTPClient(timeout time.Duration, chrome bool) *http.Client {
	client := &http.Client{Timeout: timeout}
	if chrome {
		client.Transport = NewChromeTransport(timeout)
	}
	return client
}

// NewChromeTransport returns a RoundTripper that dials TLS with uTLS's
// HelloChrome_Auto and speaks HTTP/2, retrying over HTTP/1.1 when the
// server does not accept h2.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialChrome(ctx, dialer, network, addr)
	}

	return &chromeTransport{
		h2: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dial(ctx, network, addr)
			},
		},
		h1: &http.Transport{
			DialTLSContext:    dial,
			ForceAttemptHTTP2: false,
		},
	}
}

type chromeTransport struct {
	h2 http.RoundTripper
	h1 http.RoundTripper
}

func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}

	// The h2 attempt may have read the body; form posts must be replayed.
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, err
		}
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, fmt.Errorf("rewinding request body: %w", bodyErr)
		}
		req = req.Clone(req.Context())
		req.Body = body
	}
	return t.h1.RoundTrip(req)
}

func dialChrome(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
	}
	return tlsConn, nil
}
