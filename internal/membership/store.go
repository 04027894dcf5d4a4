// Package membership holds the table of activated connections and the
// group each one is bound to.
//
// The store is owned by a single event loop and does no locking of its own.
package membership

import (
	"sort"

	"github.com/example/session-coordinator/internal/models"
)

type entry struct {
	p   models.Participant
	seq uint64
}

type Store struct {
	byConn map[string]entry
	seq    uint64
}

func NewStore() *Store {
	return &Store{byConn: make(map[string]entry)}
}

// Upsert inserts or fully replaces the record for p.ID. A replaced record
// moves to the end of listing order.
func (s *Store) Upsert(p models.Participant) models.Participant {
	s.seq++
	s.byConn[p.ID] = entry{p: p, seq: s.seq}
	return p
}

func (s *Store) Get(connID string) (models.Participant, bool) {
	e, ok := s.byConn[connID]
	return e.p, ok
}

// Remove deletes the record and returns what was there. Removing an absent
// id is not an error.
func (s *Store) Remove(connID string) (models.Participant, bool) {
	e, ok := s.byConn[connID]
	if !ok {
		return models.Participant{}, false
	}
	delete(s.byConn, connID)
	return e.p, true
}

func (s *Store) ListByGroup(groupID string) []models.Participant {
	return s.filter(func(p models.Participant) bool { return p.GroupID == groupID })
}

func (s *Store) ListByRole(role models.Role) []models.Participant {
	return s.filter(func(p models.Participant) bool { return p.Role == role })
}

func (s *Store) List() []models.Participant {
	return s.filter(func(models.Participant) bool { return true })
}

func (s *Store) Len() int { return len(s.byConn) }

func (s *Store) filter(keep func(models.Participant) bool) []models.Participant {
	matched := make([]entry, 0, len(s.byConn))
	for _, e := range s.byConn {
		if keep(e.p) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	out := make([]models.Participant, len(matched))
	for i, e := range matched {
		out[i] = e.p
	}
	return out
}
