package health

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arfhound/peakproxy/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func listenAndAccept(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln
}

func TestChecker_MarksReachableBackendHealthy(t *testing.T) {
	ln := listenAndAccept(t)
	defer ln.Close()

	state := domain.NewPeakEwmaState(10, 0.5)
	b := domain.NewBackend(1, "b", ln.Addr().String(), state)
	b.SetHealthy(false)

	table := domain.NewRoutingTable()
	table.Replace([]*domain.Backend{b})

	c := NewChecker(table, discardLogger(), 20*time.Millisecond, 200*time.Millisecond, false)
	c.runProbeRound(context.Background())

	assert.True(t, b.Healthy())
}

func TestChecker_MarksUnreachableBackendUnhealthy(t *testing.T) {
	state := domain.NewPeakEwmaState(10, 0.5)
	b := domain.NewBackend(1, "b", "127.0.0.1:1", state) // port 1 refuses immediately

	table := domain.NewRoutingTable()
	table.Replace([]*domain.Backend{b})

	c := NewChecker(table, discardLogger(), 20*time.Millisecond, 200*time.Millisecond, false)
	c.runProbeRound(context.Background())

	assert.False(t, b.Healthy())
}

func TestChecker_ParallelRoundProbesAllBackends(t *testing.T) {
	ln1 := listenAndAccept(t)
	defer ln1.Close()
	ln2 := listenAndAccept(t)
	defer ln2.Close()

	b1 := domain.NewBackend(1, "one", ln1.Addr().String(), domain.NewPeakEwmaState(10, 0.5))
	b2 := domain.NewBackend(2, "two", ln2.Addr().String(), domain.NewPeakEwmaState(10, 0.5))
	b1.SetHealthy(false)
	b2.SetHealthy(false)

	table := domain.NewRoutingTable()
	table.Replace([]*domain.Backend{b1, b2})

	c := NewChecker(table, discardLogger(), 20*time.Millisecond, 200*time.Millisecond, true)
	c.runProbeRound(context.Background())

	assert.True(t, b1.Healthy())
	assert.True(t, b2.Healthy())
}

func TestChecker_StartAndStopIsClean(t *testing.T) {
	table := domain.NewRoutingTable()
	c := NewChecker(table, discardLogger(), 10*time.Millisecond, 50*time.Millisecond, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	c.Stop()
}

func TestChecker_EmptyTableIsNoOp(t *testing.T) {
	table := domain.NewRoutingTable()
	c := NewChecker(table, discardLogger(), 10*time.Millisecond, 50*time.Millisecond, false)
	c.runProbeRound(context.Background())
}

func TestChecker_OnTransitionFiresOnHealthFlip(t *testing.T) {
	b := domain.NewBackend(1, "b", "127.0.0.1:1", domain.NewPeakEwmaState(10, 0.5))
	b.SetHealthy(true) // starts healthy, unreachable addr flips it down

	table := domain.NewRoutingTable()
	table.Replace([]*domain.Backend{b})

	c := NewChecker(table, discardLogger(), 20*time.Millisecond, 200*time.Millisecond, false)

	var gotBackend string
	var gotWas, gotIs bool
	calls := 0
	c.OnTransition(func(backend string, wasHealthy, isHealthy bool) {
		calls++
		gotBackend, gotWas, gotIs = backend, wasHealthy, isHealthy
	})

	c.runProbeRound(context.Background())

	assert.Equal(t, 1, calls)
	assert.True(t, gotWas)
	assert.False(t, gotIs)
	assert.Contains(t, gotBackend, "127.0.0.1:1")
}

func TestChecker_OnTransitionNotCalledWhenStateUnchanged(t *testing.T) {
	ln := listenAndAccept(t)
	defer ln.Close()

	b := domain.NewBackend(1, "b", ln.Addr().String(), domain.NewPeakEwmaState(10, 0.5))
	b.SetHealthy(true)

	table := domain.NewRoutingTable()
	table.Replace([]*domain.Backend{b})

	c := NewChecker(table, discardLogger(), 20*time.Millisecond, 200*time.Millisecond, false)

	calls := 0
	c.OnTransition(func(string, bool, bool) { calls++ })

	c.runProbeRound(context.Background())

	assert.Equal(t, 0, calls)
}
