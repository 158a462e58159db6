package utils

import (
	"net"
	"net/http"
	"time"
)

// RPCClientConfig tunes the HTTP transport used for JSON-RPC calls to chain nodes.
// Zero values take the defaults below.
type RPCClientConfig struct {
	// Timeout caps a whole request. Per-call deadlines from the poller still apply on top.
	Timeout         time.Duration
	MaxConnsPerHost int
}

// NewRPCHTTPClient returns a client that never waits forever on a node. Receipt lookups on busy
// nodes can take seconds, so the header timeout tracks the request timeout.
func NewRPCHTTPClient(cfg RPCClientConfig) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 8
	}
	dialer := &net.Dialer{Timeout: 2 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxConnsPerHost:       cfg.MaxConnsPerHost,
			MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: cfg.Timeout,
			ForceAttemptHTTP2:     true,
		},
	}
}
