// Package httpc provides HTTP clients with per-operation timeouts.
// Use this instead of http.DefaultClient to ensure timeouts are set.
package httpc

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Default timeouts for HTTP operations.
const (
	DefaultConnectTimeout  = 30 * time.Second
	DefaultReadTimeout     = 60 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
)

// Timeouts bounds each network operation separately.
// Read and Write apply to every individual read or write on the connection,
// so a slow but steady upload does not fail while a stalled one does.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Write   time.Duration
}

// DefaultTimeouts returns 30s connect and 60s read/write.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect: DefaultConnectTimeout,
		Read:    DefaultReadTimeout,
		Write:   DefaultWriteTimeout,
	}
}

// NewClient creates an HTTP client that enforces t on every connection.
// There is no overall request timeout; callers bound the call with a context.
func NewClient(t Timeouts) *http.Client {
	return &http.Client{Transport: NewTransport(t)}
}

// NewTransport builds the transport used by NewClient.
func NewTransport(t Timeouts) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   t.Connect,
		KeepAlive: DefaultKeepAlive,
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: conn, read: t.Read, write: t.Write}, nil
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   t.Connect,
		ResponseHeaderTimeout: t.Read,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// deadlineConn refreshes the read/write deadline before each operation.
type deadlineConn struct {
	net.Conn
	read  time.Duration
	write time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.read > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.read)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.write > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.write)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}
