// Package ports declares the interfaces the hot path is written
// against, so the four core subsystems (selector, pool, health
// checker, forwarder) can be wired and tested independently of any one
// concrete implementation.
package ports

import (
	"context"
	"net/http"

	"github.com/arfhound/peakproxy/internal/core/domain"
)

// Selector chooses the best backend for a new request from a routing
// table snapshot. Implementations must not mutate backend state;
// incrementing the in-flight gauge is the caller's job, performed only
// after selection succeeds.
type Selector interface {
	Select(backends []*domain.Backend) (*domain.Backend, error)
	Name() string
}

// UpstreamSender is a handle to one open, post-handshake HTTP/1.1
// connection to a backend, suitable for dispatching a single request
// at a time.
type UpstreamSender interface {
	// IsClosed reports, without blocking, whether the underlying
	// connection is known to be closed.
	IsClosed() bool
	// Ready performs a non-blocking-where-possible liveness check
	// before reuse; a sender popped from the pool may have been
	// closed by the upstream between pool operations.
	Ready(ctx context.Context) bool
	// SendRequest dispatches req and returns once response headers
	// are available, or an error if the attempt failed.
	SendRequest(ctx context.Context, req *http.Request) (*http.Response, error)
	// Close releases the underlying connection immediately.
	Close() error
}

// ConnectionPool is a lock-free, multi-producer/multi-consumer
// reservoir of idle UpstreamSenders, keyed by backend address.
type ConnectionPool interface {
	TryAcquire(addr string) (UpstreamSender, bool)
	Release(addr string, sender UpstreamSender)
}

// HealthChecker periodically probes every backend in a routing table
// and flips each Backend's healthy flag when its state changes.
type HealthChecker interface {
	Start(ctx context.Context)
	Stop()
}

// Dialer opens a fresh connection to a backend address. Exists so
// tests can substitute an in-memory transport for a real TCP dial.
type Dialer interface {
	Dial(ctx context.Context, addr string) (UpstreamSender, error)
}
