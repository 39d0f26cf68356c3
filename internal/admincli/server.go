// Package admincli exposes a read-only HTTP control plane for
// operators - the routing table's current backend set and the
// connection pool's per-address occupancy - and a one-shot styled
// status table for the terminal. It never touches the request hot
// path; it only reads state the forwarder and health checker already
// maintain.
package admincli

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/arfhound/peakproxy/internal/adapter/pool"
	"github.com/arfhound/peakproxy/internal/core/domain"
)

// Server is a minimal introspection API, independent of the proxy's
// front-side listener, so it can be bound to a different host:port (or
// disabled entirely) without touching the forwarding path.
type Server struct {
	table *domain.RoutingTable
	pool  *pool.ConnectionPool
	mux   *http.ServeMux
	http  *http.Server
}

func New(table *domain.RoutingTable, connPool *pool.ConnectionPool) *Server {
	s := &Server{table: table, pool: connPool, mux: http.NewServeMux()}
	s.mux.HandleFunc("/admin/routes", s.handleRoutes)
	s.mux.HandleFunc("/admin/pool", s.handlePool)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type routeView struct {
	Name    string  `json:"name"`
	Addr    string  `json:"addr"`
	Id      uint32  `json:"id"`
	Healthy bool    `json:"healthy"`
	Ewma    float64 `json:"ewma_ms"`
	Active  int64   `json:"active_requests"`
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	backends := s.table.Snapshot()
	views := make([]routeView, 0, len(backends))
	for _, b := range backends {
		views = append(views, routeView{
			Id:      uint32(b.Id),
			Name:    b.Name,
			Addr:    b.Addr,
			Healthy: b.Healthy(),
			Ewma:    b.Ewma.CurrentEWMA(),
			Active:  b.Ewma.ActiveRequests(),
		})
	}
	writeJSON(w, views)
}

type poolView struct {
	Addr   string `json:"addr"`
	Pooled int    `json:"pooled_senders"`
}

func (s *Server) handlePool(w http.ResponseWriter, _ *http.Request) {
	addrs := s.pool.Addrs()
	views := make([]poolView, 0, len(addrs))
	for _, addr := range addrs {
		views = append(views, poolView{Addr: addr, Pooled: s.pool.Len(addr)})
	}
	writeJSON(w, views)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe binds the admin mux to addr and blocks until it's
// shut down. Exists as a thin wrapper so app.Application can run it in
// its own goroutine alongside the front-side listener.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the admin listener. A no-op if
// ListenAndServe was never called.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
