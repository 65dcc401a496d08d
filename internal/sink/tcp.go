package sink

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cjeanneret/picast/internal/debug"
)

// Dialer opens the outbound byte sink for a capture.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (io.WriteCloser, error)
}

// TCPDialer connects over TCP. Timeout 0 means no limit beyond ctx.
type TCPDialer struct {
	Timeout time.Duration
}

// Dial connects to host:port. The returned sink writes raw bytes with no
// framing and half-closes the connection on Close so the peer reads EOF.
func (d TCPDialer) Dial(ctx context.Context, host string, port int) (io.WriteCloser, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	nd := net.Dialer{Timeout: d.Timeout}
	debug.Verbose("Sink: dialing %s (timeout %v)", addr, d.Timeout)
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	debug.Live("Sink: connected to %s from %s", addr, conn.LocalAddr())
	return &Conn{conn: conn}, nil
}

// Conn is an open TCP sink.
type Conn struct {
	conn net.Conn

	closeOnce sync.Once
	closeErr  error
}

func (c *Conn) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

// SetWriteDeadline bounds pending and future writes. A camera stopping a
// recording uses it to release a write the peer is not draining.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// Close flushes the write side, then closes the socket. It is safe to call
// more than once; only the first call acts.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if tc, ok := c.conn.(*net.TCPConn); ok {
			// Fails when the peer already reset; Close still reports real errors.
			if err := tc.CloseWrite(); err != nil {
				debug.Verbose("Sink: close write: %v", err)
			}
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
