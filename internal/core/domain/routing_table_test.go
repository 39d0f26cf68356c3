package domain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(id BackendId, addr string) *Backend {
	return NewBackend(id, addr, addr, NewPeakEwmaState(50, 0.5))
}

func TestRoutingTable_ReplaceAndSnapshot(t *testing.T) {
	b1 := newTestBackend(1, "10.0.0.1:80")
	b2 := newTestBackend(2, "10.0.0.2:80")
	table := NewRoutingTable(b1, b2)

	snap1 := table.Snapshot()
	require.Len(t, snap1, 2)

	b3 := newTestBackend(3, "10.0.0.3:80")
	table.Replace([]*Backend{b3})

	snap2 := table.Snapshot()
	require.Len(t, snap2, 1)
	assert.Equal(t, b3, snap2[0])

	// the earlier snapshot is untouched by the later replace
	require.Len(t, snap1, 2)
	assert.Equal(t, b1, snap1[0])
	assert.Equal(t, b2, snap1[1])
}

func TestRoutingTable_ConcurrentReadersDuringReplace(t *testing.T) {
	table := NewRoutingTable(newTestBackend(1, "a:1"))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					snap := table.Snapshot()
					require.NotEmpty(t, snap)
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		table.Replace([]*Backend{newTestBackend(BackendId(i), "a:1")})
	}
	close(stop)
	wg.Wait()
}

func TestRoutingTable_EmptyTable(t *testing.T) {
	table := &RoutingTable{}
	assert.Nil(t, table.Snapshot())
}
