// Package health implements the periodic backend health checker and
// the circuit breaker that supplements it with a passive, request-path
// failure signal.
package health

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arfhound/peakproxy/internal/core/domain"
)

const (
	DefaultCheckInterval  = 5 * time.Second
	DefaultConnectTimeout = 1500 * time.Millisecond
)

// Checker probes every backend in a RoutingTable snapshot on a fixed
// interval with a plain TCP connect, bounded by ConnectTimeout, and
// flips Backend.SetHealthy on result. It holds no routing decision
// logic of its own - the balancer reads Backend.Healthy()
// independently on the request hot path.
type Checker struct {
	table          *domain.RoutingTable
	logger         *slog.Logger
	interval       time.Duration
	connectTimeout time.Duration
	parallel       bool

	// onTransition, if set, is called in addition to the structured
	// log line whenever a backend's healthy flag flips - the styled
	// terminal logger hooks in here rather than the checker importing
	// it directly.
	onTransition func(backend string, wasHealthy, isHealthy bool)

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

func NewChecker(table *domain.RoutingTable, logger *slog.Logger, interval, connectTimeout time.Duration, parallel bool) *Checker {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &Checker{
		table:          table,
		logger:         logger,
		interval:       interval,
		connectTimeout: connectTimeout,
		parallel:       parallel,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// OnTransition registers a callback fired whenever a backend's healthy
// flag flips. Not safe to call once Start has been invoked.
func (c *Checker) OnTransition(fn func(backend string, wasHealthy, isHealthy bool)) {
	c.onTransition = fn
}

// Start runs the probe loop until ctx is cancelled or Stop is called.
// The first tick fires after one full interval, not immediately - a
// backend added a moment ago deserves a moment to come up before being
// marked unhealthy.
func (c *Checker) Start(ctx context.Context) {
	go func() {
		defer close(c.doneCh)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.runProbeRound(ctx)
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.once.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
}

func (c *Checker) runProbeRound(ctx context.Context) {
	backends := c.table.Snapshot()
	if len(backends) == 0 {
		return
	}

	if !c.parallel {
		for _, b := range backends {
			c.probeOne(ctx, b)
		}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range backends {
		b := b
		g.Go(func() error {
			c.probeOne(gctx, b)
			return nil
		})
	}
	_ = g.Wait() // probeOne never returns an error; Wait only waits out the round
}

func (c *Checker) probeOne(ctx context.Context, b *domain.Backend) {
	probeCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	wasHealthy := b.Healthy()
	healthy := c.probe(probeCtx, b.Addr)
	b.SetHealthy(healthy)

	if healthy != wasHealthy {
		c.logger.Info("backend health state changed",
			"backend", b.String(),
			"from", wasHealthy,
			"to", healthy)
		if c.onTransition != nil {
			c.onTransition(b.String(), wasHealthy, healthy)
		}
	}
}

func (c *Checker) probe(ctx context.Context, addr string) bool {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
