// Package sender implements the Upstream Sender: an opaque handle to
// one open, post-handshake HTTP/1.1 connection to a backend, and the
// dialer that creates fresh ones on a connection pool miss.
package sender

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/atomic"

	"github.com/arfhound/peakproxy/internal/core/domain"
	"github.com/arfhound/peakproxy/internal/core/ports"
)

// httpSender wraps a plaintext TCP connection speaking HTTP/1.1. For a
// plaintext backend the "handshake" in spec terms is just the TCP
// connect - there is no further negotiation before the first request
// can be pipelined.
type httpSender struct {
	conn   net.Conn
	reader *bufio.Reader
	addr   string
	closed atomic.Bool
}

func (s *httpSender) IsClosed() bool {
	return s.closed.Load()
}

// Ready peeks for unsolicited bytes or a dead connection without
// consuming anything, using a short read deadline so the check never
// blocks the caller.
func (s *httpSender) Ready(ctx context.Context) bool {
	if s.closed.Load() {
		return false
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(2 * time.Millisecond))
	_, err := s.reader.Peek(1)
	_ = s.conn.SetReadDeadline(time.Time{})

	if err == nil {
		// the upstream sent something we didn't ask for; treat the
		// connection as unreliable rather than guess at resync
		s.closed.Store(true)
		return false
	}

	var netErr net.Error
	if ne, ok := err.(net.Error); ok {
		netErr = ne
	}
	if netErr != nil && netErr.Timeout() {
		return true // nothing waiting: the connection is idle and alive
	}

	s.closed.Store(true)
	return false
}

func (s *httpSender) SendRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(deadline)
		defer s.conn.SetDeadline(time.Time{})
	}

	if err := req.Write(s.conn); err != nil {
		s.closed.Store(true)
		return nil, &domain.UpstreamSendError{Backend: s.addr, Err: err}
	}

	resp, err := http.ReadResponse(s.reader, req)
	if err != nil {
		s.closed.Store(true)
		return nil, &domain.UpstreamSendError{Backend: s.addr, Err: err}
	}

	return resp, nil
}

func (s *httpSender) Close() error {
	s.closed.Store(true)
	return s.conn.Close()
}

// Dialer opens fresh httpSenders with a bounded connect timeout.
type Dialer struct {
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

func NewDialer(connectTimeout, keepAlive time.Duration) *Dialer {
	return &Dialer{ConnectTimeout: connectTimeout, KeepAlive: keepAlive}
}

func (d *Dialer) Dial(ctx context.Context, addr string) (ports.UpstreamSender, error) {
	dialer := &net.Dialer{Timeout: d.ConnectTimeout, KeepAlive: d.KeepAlive}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &domain.UpstreamConnectError{Backend: addr, Err: err}
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(d.KeepAlive)
	}

	return &httpSender{
		conn:   conn,
		reader: bufio.NewReader(conn),
		addr:   addr,
	}, nil
}
