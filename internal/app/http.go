package app

import (
	"net"
	"net/http"
	"time"
)

// newHTTPClient returns the shared transport for page, probe, download and
// vision requests. Per-request deadlines are set by the callers, so the
// client-level timeout is only a ceiling.
func newHTTPClient(ceiling time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   ceiling,
	}
}
