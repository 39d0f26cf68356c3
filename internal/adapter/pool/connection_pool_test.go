package pool

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	id     int
	closed atomic.Bool
}

func (f *fakeSender) IsClosed() bool { return f.closed.Load() }
func (f *fakeSender) Ready(ctx context.Context) bool { return !f.closed.Load() }
func (f *fakeSender) SendRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	return nil, nil
}
func (f *fakeSender) Close() error {
	f.closed.Store(true)
	return nil
}

func TestConnectionPool_MissOnEmptyQueue(t *testing.T) {
	p := NewConnectionPool()
	_, ok := p.TryAcquire("10.0.0.1:80")
	assert.False(t, ok)
}

func TestConnectionPool_ReleaseThenAcquireRoundTrips(t *testing.T) {
	p := NewConnectionPool()
	s := &fakeSender{id: 1}

	p.Release("10.0.0.1:80", s)
	got, ok := p.TryAcquire("10.0.0.1:80")
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = p.TryAcquire("10.0.0.1:80")
	assert.False(t, ok)
}

func TestConnectionPool_ClosedSenderNeverPooled(t *testing.T) {
	p := NewConnectionPool()
	s := &fakeSender{id: 1}
	s.Close()

	p.Release("10.0.0.1:80", s)
	assert.Equal(t, 0, p.Len("10.0.0.1:80"))
}

func TestConnectionPool_TryAcquireSkipsClosedSendersDiscoveredAtPop(t *testing.T) {
	p := NewConnectionPool()
	live := &fakeSender{id: 1}
	stale := &fakeSender{id: 2}

	p.Release("addr", stale)
	p.Release("addr", live)
	stale.Close() // closes after it was pooled, as the upstream might

	got, ok := p.TryAcquire("addr")
	require.True(t, ok)
	assert.Same(t, live, got)

	_, ok = p.TryAcquire("addr")
	assert.False(t, ok)
}

func TestConnectionPool_ConcurrentPushPopConservesCount(t *testing.T) {
	p := NewConnectionPool()
	const n = 500

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			p.Release("addr", &fakeSender{id: i})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, p.Len("addr"))

	var popped atomic.Int64
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, ok := p.TryAcquire("addr"); ok {
				popped.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(n), popped.Load())
	assert.Equal(t, 0, p.Len("addr"))
}

func TestConnectionPool_AddressesAreIndependent(t *testing.T) {
	p := NewConnectionPool()
	p.Release("a:1", &fakeSender{id: 1})
	p.Release("b:1", &fakeSender{id: 2})

	assert.Equal(t, 1, p.Len("a:1"))
	assert.Equal(t, 1, p.Len("b:1"))
}

func TestConnectionPool_AddrsListsKnownAddressesEvenWhenDrained(t *testing.T) {
	p := NewConnectionPool()
	p.Release("a:1", &fakeSender{id: 1})
	p.Release("b:1", &fakeSender{id: 2})

	_, ok := p.TryAcquire("a:1")
	require.True(t, ok)

	addrs := p.Addrs()
	assert.ElementsMatch(t, []string{"a:1", "b:1"}, addrs)
}
