package sender

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveOnce accepts a single connection and replies to every request
// read from it with a 200 and the given body, until the client closes
// the connection.
func serveOnce(t *testing.T, ln net.Listener, body string) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		br := bufio.NewReader(conn)
		for {
			req, err := http.ReadRequest(br)
			if err != nil {
				return
			}
			_ = req.Body.Close()

			resp := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
			if _, err := conn.Write([]byte(resp)); err != nil {
				return
			}
		}
	}()
}

func TestDialer_DialAndSendRequestRoundTrips(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	serveOnce(t, ln, "ok")

	d := NewDialer(time.Second, 30*time.Second)
	s, err := d.Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer s.Close()

	req, _ := http.NewRequest(http.MethodGet, "http://backend/healthz", nil)
	resp, err := s.SendRequest(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDialer_DialUnreachableReturnsConnectError(t *testing.T) {
	d := NewDialer(100*time.Millisecond, time.Second)
	_, err := d.Dial(context.Background(), "127.0.0.1:1")
	require.Error(t, err)
}

func TestSender_ReadyOnFreshConnectionIsTrue(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	serveOnce(t, ln, "ok")

	d := NewDialer(time.Second, 30*time.Second)
	sIface, err := d.Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	s := sIface.(*httpSender)
	defer s.Close()

	assert.True(t, s.Ready(context.Background()))
	assert.False(t, s.IsClosed())
}

func TestSender_CloseMarksClosed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	serveOnce(t, ln, "ok")

	d := NewDialer(time.Second, 30*time.Second)
	s, err := d.Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.True(t, s.IsClosed())
	assert.False(t, s.Ready(context.Background()))
}

func TestSender_ReadyAfterPeerClosesReportsFalseAndMarksClosed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close() // hang up immediately, no bytes written
	}()

	d := NewDialer(time.Second, 30*time.Second)
	sIface, err := d.Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	s := sIface.(*httpSender)

	require.Eventually(t, func() bool {
		return !s.Ready(context.Background())
	}, time.Second, 10*time.Millisecond)
	assert.True(t, s.IsClosed())
}
