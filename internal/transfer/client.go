package transfer

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// NewClient builds the process-wide shared *http.Client, grounded on
// xssnick-tonutils-storage-provider's own http.Client{Timeout: ...}
// construction in pkg/storage/client.go, generalized with an explicit
// Transport so dial and TLS handshake timeouts are configured separately
// from the low-speed abort the engine enforces itself while streaming a
// body: no net/http knob matches that shape, so it's enforced by
// runAttempt's stall watchdog instead of by this client.
func NewClient(tlsConfig *tls.Config) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   connectTimeout,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		// No overall Timeout: individual attempts are bounded by the
		// retry engine's own accounting (maxRetries, backoff, and the
		// stall watchdog in runAttempt), not a single fixed deadline.
	}
}
