package storage

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/example/session-coordinator/internal/models"
)

const (
	// DefaultHistoryLimit caps how many events MemoryStore keeps per ride.
	DefaultHistoryLimit = 50
	// DefaultMaxRides caps how many rides MemoryStore remembers.
	DefaultMaxRides = 1024
)

// MemoryStore keeps the most recent events of the most recently touched
// rides. It is the default journal sink when no external backend is
// configured.
type MemoryStore struct {
	mu    sync.Mutex // serializes append-then-store
	rides *lru.Cache[string, []models.RideEvent]
	limit int
}

func NewMemoryStore(limit, maxRides int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if maxRides <= 0 {
		maxRides = DefaultMaxRides
	}
	rides, _ := lru.New[string, []models.RideEvent](maxRides)
	return &MemoryStore{rides: rides, limit: limit}
}

func (m *MemoryStore) RecordRide(_ context.Context, ev models.RideEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, _ := m.rides.Get(ev.RideID)
	h := make([]models.RideEvent, 0, len(prev)+1)
	h = append(append(h, prev...), ev)
	if len(h) > m.limit {
		h = h[len(h)-m.limit:]
	}
	m.rides.Add(ev.RideID, h)
	return nil
}

// History returns the recorded events for a ride, oldest first.
func (m *MemoryStore) History(_ context.Context, rideID string) ([]models.RideEvent, error) {
	h, ok := m.rides.Peek(rideID)
	if !ok {
		return nil, ErrRideNotFound
	}
	return append([]models.RideEvent(nil), h...), nil
}

// Len reports how many rides are remembered.
func (m *MemoryStore) Len() int { return m.rides.Len() }

func (m *MemoryStore) Ping(context.Context) error { return nil }
