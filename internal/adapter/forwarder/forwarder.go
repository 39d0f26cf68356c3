// Package forwarder implements the per-request orchestration that
// composes the selector, connection pool and Peak-EWMA state into a
// single proxied round trip. It is deliberately thin glue: every piece
// of real logic lives in the subsystem it belongs to.
package forwarder

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/arfhound/peakproxy/internal/adapter/health"
	"github.com/arfhound/peakproxy/internal/core/domain"
	"github.com/arfhound/peakproxy/internal/core/ports"
	"github.com/arfhound/peakproxy/internal/util"
	"github.com/arfhound/peakproxy/pkg/pool"
)

const DefaultStreamBufferSize = 64 * 1024

// Forwarder is the hot-path orchestrator described by the core spec:
// select -> begin_request guard -> acquire sender -> dispatch -> feed
// back latency or discard on failure.
type Forwarder struct {
	table    *domain.RoutingTable
	selector ports.Selector
	pool     ports.ConnectionPool
	dialer   ports.Dialer
	breaker  *health.CircuitBreaker
	logger   *slog.Logger

	bufferPool *pool.Pool[*[]byte]
}

func New(table *domain.RoutingTable, selector ports.Selector, connPool ports.ConnectionPool, dialer ports.Dialer, breaker *health.CircuitBreaker, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		table:    table,
		selector: selector,
		pool:     connPool,
		dialer:   dialer,
		breaker:  breaker,
		logger:   logger,
		bufferPool: pool.NewLitePool(func() *[]byte {
			b := make([]byte, DefaultStreamBufferSize)
			return &b
		}),
	}
}

// ServeHTTP implements the eight-step forward described by the spec:
// select, time, guard, acquire-or-dial, rewrite, dispatch, and release
// on success or discard on failure.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := util.GenerateRequestID()
	ctx := r.Context()

	backend, err := f.selector.Select(f.table.Snapshot())
	if err != nil {
		f.logger.Warn("no upstream available", "request_id", requestID, "error", err)
		http.Error(w, "no upstream available", http.StatusBadGateway)
		return
	}

	if f.breaker != nil && f.breaker.IsOpen(backend.Addr) {
		f.logger.Warn("circuit open, rejecting", "request_id", requestID, "backend", backend.String())
		http.Error(w, "upstream circuit open", http.StatusBadGateway)
		return
	}

	start := time.Now()
	guard := backend.Ewma.BeginRequest()
	defer guard.Release()

	sender, fresh, err := f.acquireSender(ctx, backend)
	if err != nil {
		f.recordFailure(backend)
		f.logger.Error("upstream unavailable", "request_id", requestID, "backend", backend.String(), "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}

	f.rewriteTarget(r, backend)

	resp, err := sender.SendRequest(ctx, r)
	if err != nil {
		_ = sender.Close() // never pool a sender that failed mid-flight
		f.recordFailure(backend)
		f.logger.Error("upstream send failed", "request_id", requestID, "backend", backend.String(), "fresh", fresh, "error", err)
		http.Error(w, "upstream send failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	backend.Ewma.ObserveLatency(float64(elapsed.Milliseconds()))
	if f.breaker != nil {
		f.breaker.RecordSuccess(backend.Addr)
	}

	f.copyResponse(w, resp)
	f.pool.Release(backend.Addr, sender)
}

// acquireSender tries the pool first, verifies readiness on a hit, and
// falls back to one fresh dial on a miss or a stale sender.
func (f *Forwarder) acquireSender(ctx context.Context, backend *domain.Backend) (ports.UpstreamSender, bool, error) {
	if sender, ok := f.pool.TryAcquire(backend.Addr); ok {
		if sender.Ready(ctx) {
			return sender, false, nil
		}
		_ = sender.Close() // PoolStaleSender: discarded, not surfaced
	}

	sender, err := f.dialer.Dial(ctx, backend.Addr)
	if err != nil {
		return nil, true, err
	}
	return sender, true, nil
}

func (f *Forwarder) rewriteTarget(r *http.Request, backend *domain.Backend) {
	r.URL.Scheme = "http"
	r.URL.Host = backend.Addr
	if r.URL.Path == "" {
		r.URL.Path = "/"
	}
	r.Host = backend.Addr
	r.RequestURI = ""
}

func (f *Forwarder) copyResponse(w http.ResponseWriter, resp *http.Response) {
	header := w.Header()
	for key, values := range resp.Header {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	buf := f.bufferPool.Get()
	defer f.bufferPool.Put(buf)
	_, _ = copyBuffered(w, resp.Body, *buf)
}

func (f *Forwarder) recordFailure(backend *domain.Backend) {
	if f.breaker != nil {
		f.breaker.RecordFailure(backend.Addr)
	}
}
