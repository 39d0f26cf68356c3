// Package balancer implements backend selection strategies over a
// domain.RoutingTable snapshot.
package balancer

import (
	"math"

	"github.com/arfhound/peakproxy/internal/core/domain"
)

const DefaultBalancerPeakEwma = "peak-ewma"

// PeakEwmaSelector chooses the healthy backend with the lowest
// Peak-EWMA score: (ewma+1)*(active+1). Ties break on the smallest
// BackendId; among equal ids the one earliest in the snapshot (the
// routing table's configured order) wins.
//
// Select never mutates backend state - incrementing the in-flight
// gauge and starting the round-trip timer are the forwarder's job,
// performed only once a backend has actually been chosen.
type PeakEwmaSelector struct{}

func NewPeakEwmaSelector() *PeakEwmaSelector {
	return &PeakEwmaSelector{}
}

func (s *PeakEwmaSelector) Name() string { return DefaultBalancerPeakEwma }

func (s *PeakEwmaSelector) Select(backends []*domain.Backend) (*domain.Backend, error) {
	var best *domain.Backend
	bestScore := math.Inf(1)

	for _, b := range backends {
		if !b.Healthy() {
			continue
		}

		score := b.Ewma.Score()
		if math.IsNaN(score) {
			score = math.Inf(1) // never let a NaN win a comparison
		}

		if best == nil || score < bestScore ||
			(score == bestScore && b.Id < best.Id) {
			best = b
			bestScore = score
		}
	}

	if best == nil {
		return nil, &domain.ErrNoUpstream{}
	}
	return best, nil
}
