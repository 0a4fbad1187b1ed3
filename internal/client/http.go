package client

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// newHTTPClient builds the shared transport: TLS 1.2 minimum, bounded
// dial and idle times, whole-exchange timeout. The timeout covers the full
// streamed response, so it doubles as the stream suspension bound.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// authTransport adds a bearer token to every request, for remote servers
// fronted by an authenticating proxy.
type authTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.apiKey)
	return t.base.RoundTrip(clone)
}
