package domain

import (
	"fmt"

	"go.uber.org/atomic"
)

// BackendId identifies a configured upstream within a configuration
// generation. Stable for the generation's lifetime; may be reused only
// across a full hot-reload.
type BackendId uint32

// Backend is one upstream HTTP/1.1 server the proxy may forward to.
//
// Id and Addr are immutable for the instance's lifetime. Healthy is
// written only by the health checker and read by many selectors
// concurrently; Ewma is written by many forwarding tasks and read by
// the selector. A Backend is shared by reference across every
// RoutingTable snapshot that includes it.
type Backend struct {
	Ewma    *PeakEwmaState
	Name    string
	Addr    string // host:port, dialled directly and used as the rewritten Host/authority
	Id      BackendId
	healthy atomic.Bool
}

// NewBackend constructs a Backend, healthy by default until the first
// probe says otherwise.
func NewBackend(id BackendId, name, addr string, ewma *PeakEwmaState) *Backend {
	b := &Backend{
		Id:   id,
		Name: name,
		Addr: addr,
		Ewma: ewma,
	}
	b.healthy.Store(true)
	return b
}

// Healthy reports the last committed liveness flag. Acquire-ordered:
// readers always observe the most recent SetHealthy.
func (b *Backend) Healthy() bool {
	return b.healthy.Load()
}

// SetHealthy publishes a new liveness flag with release ordering. Only
// the health checker should call this.
func (b *Backend) SetHealthy(healthy bool) {
	b.healthy.Store(healthy)
}

func (b *Backend) String() string {
	return fmt.Sprintf("backend#%d(%s@%s)", b.Id, b.Name, b.Addr)
}
