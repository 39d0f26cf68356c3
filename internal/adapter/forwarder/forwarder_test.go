package forwarder

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arfhound/peakproxy/internal/adapter/health"
	"github.com/arfhound/peakproxy/internal/adapter/pool"
	"github.com/arfhound/peakproxy/internal/adapter/sender"
	"github.com/arfhound/peakproxy/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoBackend accepts one connection and answers every request with a
// 200 and the given body.
func echoBackend(t *testing.T, body string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
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
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func newTable(backends ...*domain.Backend) *domain.RoutingTable {
	table := domain.NewRoutingTable()
	table.Replace(backends)
	return table
}

func TestForwarder_HappyPathDialsAndReturnsBody(t *testing.T) {
	addr := echoBackend(t, "hello")
	backend := domain.NewBackend(1, "b", addr, domain.NewPeakEwmaState(10, 0.5))
	table := newTable(backend)

	f := New(table, newSelectorFunc(backend), pool.NewConnectionPool(), sender.NewDialer(time.Second, 30*time.Second), health.NewCircuitBreaker(3, time.Second), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "http://front/v1/models", nil)
	rec := httptest.NewRecorder()

	f.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, int64(0), backend.Ewma.ActiveRequests())
}

func TestForwarder_NoUpstreamReturnsBadGateway(t *testing.T) {
	table := domain.NewRoutingTable()
	f := New(table, selectorErr(&domain.ErrNoUpstream{}), pool.NewConnectionPool(), sender.NewDialer(time.Second, time.Second), health.NewCircuitBreaker(3, time.Second), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "http://front/", nil)
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestForwarder_DialFailureRecordsCircuitFailureAndSkipsEwmaUpdate(t *testing.T) {
	backend := domain.NewBackend(1, "b", "127.0.0.1:1", domain.NewPeakEwmaState(10, 0.5))
	table := newTable(backend)
	breaker := health.NewCircuitBreaker(1, time.Minute)

	f := New(table, newSelectorFunc(backend), pool.NewConnectionPool(), sender.NewDialer(50*time.Millisecond, time.Second), breaker, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "http://front/", nil)
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.True(t, breaker.IsOpen(backend.Addr))
	assert.InDelta(t, 10, backend.Ewma.CurrentEWMA(), 0.0001) // unchanged: no latency signal on failure
}

func TestForwarder_ReleasesSenderToPoolOnSuccess(t *testing.T) {
	addr := echoBackend(t, "ok")
	backend := domain.NewBackend(1, "b", addr, domain.NewPeakEwmaState(10, 0.5))
	table := newTable(backend)
	p := pool.NewConnectionPool()

	f := New(table, newSelectorFunc(backend), p, sender.NewDialer(time.Second, 30*time.Second), health.NewCircuitBreaker(3, time.Second), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "http://front/", nil)
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, p.Len(addr))
}

func TestForwarder_CircuitOpenRejectsWithoutDialing(t *testing.T) {
	backend := domain.NewBackend(1, "b", "127.0.0.1:9", domain.NewPeakEwmaState(10, 0.5))
	table := newTable(backend)
	breaker := health.NewCircuitBreaker(1, time.Minute)
	breaker.RecordFailure(backend.Addr)
	require.True(t, breaker.IsOpen(backend.Addr))

	f := New(table, newSelectorFunc(backend), pool.NewConnectionPool(), sender.NewDialer(50*time.Millisecond, time.Second), breaker, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "http://front/", nil)
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

type selectorFunc func() *domain.Backend

func (s selectorFunc) Select(_ []*domain.Backend) (*domain.Backend, error) { return s(), nil }
func (s selectorFunc) Name() string                                       { return "fixed" }

func newSelectorFunc(b *domain.Backend) selectorFunc {
	return func() *domain.Backend { return b }
}

type selectorErrType struct{ err error }

func (s selectorErrType) Select(_ []*domain.Backend) (*domain.Backend, error) { return nil, s.err }
func (s selectorErrType) Name() string                                       { return "failing" }

func selectorErr(err error) selectorErrType { return selectorErrType{err: err} }
