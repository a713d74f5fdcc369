// Package store keeps the latest GPS sample per tracked entity, indexed
// for the snapshot and query paths. GPS streams are latest-wins: an
// update replaces the previous sample outright.
package store

import (
	"sort"
	"sync"
	"time"

	"freightwatch/internal/domain"
	"freightwatch/internal/hub"
)

type FleetStore struct {
	mu         sync.RWMutex
	samples    map[string]domain.GPSSample
	byShipment map[string]map[string]struct{}

	staleAfter time.Duration
	seen       map[string]time.Time
	now        func() time.Time
}

func New(staleAfter time.Duration) *FleetStore {
	return &FleetStore{
		samples:    make(map[string]domain.GPSSample),
		byShipment: make(map[string]map[string]struct{}),
		seen:       make(map[string]time.Time),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

func (s *FleetStore) Update(sample domain.GPSSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.samples[sample.EntityID]; ok && prev.ShipmentID != sample.ShipmentID {
		s.dropFromShipmentIndex(prev.EntityID, prev.ShipmentID)
	}

	s.samples[sample.EntityID] = sample
	s.seen[sample.EntityID] = s.now()
	if sample.ShipmentID != "" {
		if s.byShipment[sample.ShipmentID] == nil {
			s.byShipment[sample.ShipmentID] = make(map[string]struct{})
		}
		s.byShipment[sample.ShipmentID][sample.EntityID] = struct{}{}
	}
}

func (s *FleetStore) Get(entityID string) (domain.GPSSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.samples[entityID]
	return sample, ok
}

func (s *FleetStore) List() []domain.GPSSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.GPSSample, 0, len(s.samples))
	for _, sample := range s.samples {
		result = append(result, sample)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EntityID < result[j].EntityID })
	return result
}

func (s *FleetStore) ForShipment(shipmentID string) []domain.GPSSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.GPSSample
	for entityID := range s.byShipment[shipmentID] {
		result = append(result, s.samples[entityID])
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EntityID < result[j].EntityID })
	return result
}

// SnapshotForRooms resolves the samples a freshly subscribed client
// should see for the given rooms, deduplicated across overlaps
func (s *FleetStore) SnapshotForRooms(rooms []string) []domain.GPSSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	picked := make(map[string]struct{})
	var result []domain.GPSSample

	add := func(entityID string) {
		if _, ok := picked[entityID]; ok {
			return
		}
		if sample, ok := s.samples[entityID]; ok {
			picked[entityID] = struct{}{}
			result = append(result, sample)
		}
	}

	for _, room := range rooms {
		kind, id := hub.SplitRoom(room)
		switch kind {
		case "fleet":
			for entityID := range s.samples {
				add(entityID)
			}
		case "truck":
			add(id)
		case "shipment":
			for entityID := range s.byShipment[id] {
				add(entityID)
			}
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].EntityID < result[j].EntityID })
	return result
}

// PruneStale removes entities that stopped reporting and returns their
// last samples so the caller can raise offline alerts
func (s *FleetStore) PruneStale() []domain.GPSSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.staleAfter)
	var removed []domain.GPSSample
	for entityID, seenAt := range s.seen {
		if seenAt.Before(cutoff) {
			sample := s.samples[entityID]
			removed = append(removed, sample)
			s.dropFromShipmentIndex(entityID, sample.ShipmentID)
			delete(s.samples, entityID)
			delete(s.seen, entityID)
		}
	}
	return removed
}

func (s *FleetStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// dropFromShipmentIndex assumes s.mu is held
func (s *FleetStore) dropFromShipmentIndex(entityID, shipmentID string) {
	if shipmentID == "" || s.byShipment[shipmentID] == nil {
		return
	}
	delete(s.byShipment[shipmentID], entityID)
	if len(s.byShipment[shipmentID]) == 0 {
		delete(s.byShipment, shipmentID)
	}
}
