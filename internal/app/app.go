// Package app wires the four core subsystems - selector, connection
// pool, health checker and forwarder - plus config hot-reload and the
// admin control plane, into a single running proxy process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/arfhound/peakproxy/internal/adapter/balancer"
	"github.com/arfhound/peakproxy/internal/adapter/forwarder"
	"github.com/arfhound/peakproxy/internal/adapter/health"
	"github.com/arfhound/peakproxy/internal/adapter/pool"
	"github.com/arfhound/peakproxy/internal/adapter/sender"
	"github.com/arfhound/peakproxy/internal/admincli"
	"github.com/arfhound/peakproxy/internal/config"
	"github.com/arfhound/peakproxy/internal/core/domain"
	"github.com/arfhound/peakproxy/internal/logger"
)

// Application owns the process-lifetime state: the routing table, the
// health checker, and the two HTTP listeners (front-side proxy,
// read-only admin API).
type Application struct {
	cfg    *config.Config
	logger *logger.StyledLogger

	table   *domain.RoutingTable
	checker *health.Checker

	server      *http.Server
	adminServer *admincli.Server
	adminAddr   string

	errCh chan error
}

// New builds an Application from a loaded Config. It wires the
// routing table from the config's static backend set, a Peak-EWMA
// selector, a lock-free connection pool, a dialer-backed sender
// factory, a per-backend circuit breaker and the health checker - then
// hands all of it to a Forwarder that becomes the front-side HTTP
// handler.
func New(cfg *config.Config, styledLogger *logger.StyledLogger) (*Application, error) {
	table := domain.NewRoutingTable(cfg.ToBackends()...)

	selector := balancer.NewPeakEwmaSelector()
	connPool := pool.NewConnectionPool()
	dialer := sender.NewDialer(cfg.Proxy.ConnectionTimeout, cfg.Proxy.KeepAlive)
	breaker := health.NewCircuitBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.OpenFor)

	baseLogger := styledLogger.GetUnderlying()
	fwd := forwarder.New(table, selector, connPool, dialer, breaker, baseLogger)

	checker := health.NewChecker(table, baseLogger, cfg.Health.Interval, cfg.Health.ConnectTimeout, cfg.Health.Parallel)
	checker.OnTransition(styledLogger.InfoHealthTransition)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      fwd,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a := &Application{
		cfg:         cfg,
		logger:      styledLogger,
		table:       table,
		checker:     checker,
		server:      httpServer,
		adminServer: admincli.New(table, connPool),
		adminAddr:   fmt.Sprintf("%s:%d", cfg.Server.Admin.Host, cfg.Server.Admin.Port),
		errCh:       make(chan error, 2),
	}

	return a, nil
}

// Start begins serving the front-side proxy, the admin API (if
// enabled) and the health checker. It returns once the listeners have
// been launched; a listener error that occurs after that is logged, not
// returned.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting proxy", "bind", a.server.Addr, "load_balancer", a.cfg.Proxy.LoadBalancer)

	backendCount := len(a.table.Snapshot())
	a.logger.InfoWithCount("configured backends", backendCount)

	a.checker.Start(ctx)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.errCh <- fmt.Errorf("proxy listener: %w", err)
		}
	}()

	if a.cfg.Server.Admin.Enabled {
		go func() {
			a.logger.Info("starting admin control plane", "bind", a.adminAddr)
			if err := a.adminServer.ListenAndServe(a.adminAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.errCh <- fmt.Errorf("admin listener: %w", err)
			}
		}()
	}

	go func() {
		select {
		case err := <-a.errCh:
			a.logger.Error("listener error", "error", err)
		case <-ctx.Done():
			return
		}
	}()

	return nil
}

// Reload swaps in a freshly parsed backend set without interrupting
// in-flight requests - the RoutingTable's atomic Replace is the only
// synchronisation needed.
func (a *Application) Reload(cfg *config.Config) {
	a.cfg = cfg
	a.table.Replace(cfg.ToBackends())
	a.logger.InfoWithCount("routing table reloaded", len(cfg.ToBackends()))
}

// Stop stops the health checker, drains in-flight requests against the
// configured shutdown timeout, then stops the admin listener.
func (a *Application) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.checker.Stop()

	var firstErr error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		firstErr = fmt.Errorf("proxy shutdown: %w", err)
	}

	if a.cfg.Server.Admin.Enabled {
		adminCtx, adminCancel := context.WithTimeout(ctx, 5*time.Second)
		defer adminCancel()
		if err := a.adminServer.Shutdown(adminCtx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("admin shutdown: %w", err)
		}
	}

	return firstErr
}
