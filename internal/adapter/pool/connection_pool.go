// Package pool implements the lock-free reservoir of idle upstream
// HTTP/1.1 senders, keyed by backend address, that the forwarder draws
// from instead of re-dialling and re-handshaking on every request.
package pool

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arfhound/peakproxy/internal/core/ports"
)

// node is one link in a per-address Treiber stack of idle senders.
type node struct {
	next   *node
	sender ports.UpstreamSender
}

// senderStack is a lock-free LIFO built from a single atomic head
// pointer, compare-and-swapped on every push and pop. Multiple
// producers and consumers may race on it without any lock; a losing
// CAS just retries against the fresh head.
type senderStack struct {
	head atomic.Pointer[node]
}

func (s *senderStack) push(sender ports.UpstreamSender) {
	n := &node{sender: sender}
	for {
		head := s.head.Load()
		n.next = head
		if s.head.CompareAndSwap(head, n) {
			return
		}
	}
}

func (s *senderStack) pop() (ports.UpstreamSender, bool) {
	for {
		head := s.head.Load()
		if head == nil {
			return nil, false
		}
		if s.head.CompareAndSwap(head, head.next) {
			return head.sender, true
		}
	}
}

// ConnectionPool is a mapping from backend address to a senderStack.
// The outer map is grow-only across a process lifetime and tolerates
// concurrent insert-or-lookup without an external lock (xsync.Map);
// each inner stack tolerates concurrent push/pop the same way.
type ConnectionPool struct {
	byAddr *xsync.Map[string, *senderStack]
}

func NewConnectionPool() *ConnectionPool {
	return &ConnectionPool{
		byAddr: xsync.NewMap[string, *senderStack](),
	}
}

// TryAcquire pops idle senders for addr one at a time, discarding any
// that report closed, and returns the first live one found. Returns
// (nil, false) once the queue is drained - a normal, expected miss, not
// an error. No allocation happens on a hit.
func (p *ConnectionPool) TryAcquire(addr string) (ports.UpstreamSender, bool) {
	stack, ok := p.byAddr.Load(addr)
	if !ok {
		return nil, false
	}

	for {
		sender, ok := stack.pop()
		if !ok {
			return nil, false
		}
		if sender.IsClosed() {
			continue // drop it silently and keep draining
		}
		return sender, true
	}
}

// Release pools sender for reuse under addr, unless it is already
// known closed, in which case it is dropped. The per-address stack is
// created lazily on first use.
func (p *ConnectionPool) Release(addr string, sender ports.UpstreamSender) {
	if sender == nil || sender.IsClosed() {
		return
	}

	stack, _ := p.byAddr.LoadOrCompute(addr, func() (*senderStack, bool) {
		return &senderStack{}, false
	})
	stack.push(sender)
}

// Len reports how many senders are currently pooled for addr. Intended
// for tests and the admin endpoint, not the hot path.
func (p *ConnectionPool) Len(addr string) int {
	stack, ok := p.byAddr.Load(addr)
	if !ok {
		return 0
	}
	n := 0
	for cur := stack.head.Load(); cur != nil; cur = cur.next {
		n++
	}
	return n
}

// Addrs lists every backend address the pool currently has a stack
// for (including ones that have since drained to empty). Intended for
// the admin endpoint, not the hot path.
func (p *ConnectionPool) Addrs() []string {
	addrs := make([]string, 0)
	p.byAddr.Range(func(addr string, _ *senderStack) bool {
		addrs = append(addrs, addr)
		return true
	})
	return addrs
}
