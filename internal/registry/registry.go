// Package registry is the in-memory table of groups (rides and rooms), their
// members and their shared state.
//
// Like membership.Store it belongs to one event loop and is not safe for
// concurrent use. Every read returns a deep copy.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/example/session-coordinator/internal/models"
)

var (
	ErrDuplicateGroup = errors.New("group already exists")
	ErrGroupNotFound  = errors.New("group not found")
	ErrWrongKind      = errors.New("group has a different kind")
)

// RidePatch carries the ride fields a client may change. Party ids are not
// part of it, so a merge can never rewrite who the ride belongs to.
type RidePatch struct {
	Status          *string
	DriverLocation  *string
	PickupLocation  *string
	RideDestination *string
}

type Registry struct {
	groups map[string]*models.Group
	now    func() time.Time
}

func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{groups: make(map[string]*models.Group), now: now}
}

// Create registers a new, empty group. Reusing an id is rejected.
func (r *Registry) Create(id string, kind models.GroupKind, host string) (models.Group, error) {
	if _, ok := r.groups[id]; ok {
		return models.Group{}, fmt.Errorf("%w: %s", ErrDuplicateGroup, id)
	}
	ts := r.now()
	g := &models.Group{ID: id, Kind: kind, Host: host, Members: []models.Member{}, CreatedAt: ts, UpdatedAt: ts}
	switch kind {
	case models.KindRide:
		g.Ride = &models.RideState{}
	default:
		g.Room = &models.RoomState{}
	}
	r.groups[id] = g
	return g.Clone(), nil
}

func (r *Registry) Get(id string) (models.Group, bool) {
	g, ok := r.groups[id]
	if !ok {
		return models.Group{}, false
	}
	return g.Clone(), true
}

// FindOrCreateRide returns the ride keyed by id, creating it from seed when
// absent. created reports which of the two happened.
func (r *Registry) FindOrCreateRide(id string, seed models.RideState) (g models.Group, created bool, err error) {
	if cur, ok := r.groups[id]; ok {
		if cur.Kind != models.KindRide {
			return models.Group{}, false, fmt.Errorf("%w: %s is a %s", ErrWrongKind, id, cur.Kind)
		}
		return cur.Clone(), false, nil
	}
	ts := r.now()
	state := seed
	ng := &models.Group{ID: id, Kind: models.KindRide, Host: seed.DriverID, Members: []models.Member{}, Ride: &state, CreatedAt: ts, UpdatedAt: ts}
	r.groups[id] = ng
	return ng.Clone(), true, nil
}

// MergeRide shallow-merges the non-nil patch fields into the ride state.
func (r *Registry) MergeRide(id string, patch RidePatch) (models.Group, error) {
	g, ok := r.groups[id]
	if !ok {
		return models.Group{}, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	if g.Kind != models.KindRide {
		return models.Group{}, fmt.Errorf("%w: %s is a %s", ErrWrongKind, id, g.Kind)
	}
	apply(&g.Ride.Status, patch.Status)
	apply(&g.Ride.DriverLocation, patch.DriverLocation)
	apply(&g.Ride.PickupLocation, patch.PickupLocation)
	apply(&g.Ride.RideDestination, patch.RideDestination)
	g.UpdatedAt = r.now()
	return g.Clone(), nil
}

func apply(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// SetCode replaces a room's shared source text.
func (r *Registry) SetCode(id, code string) (models.Group, bool) {
	g, ok := r.groups[id]
	if !ok || g.Room == nil {
		return models.Group{}, false
	}
	g.Room.Code = code
	g.UpdatedAt = r.now()
	return g.Clone(), true
}

// UpsertMember replaces the entry with the same member id in place, or
// appends. Returns false when the group does not exist.
func (r *Registry) UpsertMember(id string, m models.Member) (models.Group, bool) {
	g, ok := r.groups[id]
	if !ok {
		return models.Group{}, false
	}
	replaced := false
	for i := range g.Members {
		if g.Members[i].ID == m.ID {
			g.Members[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		g.Members = append(g.Members, m)
	}
	g.UpdatedAt = r.now()
	return g.Clone(), true
}

func (r *Registry) RemoveMember(id, memberID string) (models.Group, bool) {
	g, ok := r.groups[id]
	if !ok {
		return models.Group{}, false
	}
	kept := g.Members[:0]
	for _, m := range g.Members {
		if m.ID != memberID {
			kept = append(kept, m)
		}
	}
	g.Members = kept
	g.UpdatedAt = r.now()
	return g.Clone(), true
}

// Close removes the group and returns its last state.
func (r *Registry) Close(id string) (models.Group, bool) {
	g, ok := r.groups[id]
	if !ok {
		return models.Group{}, false
	}
	delete(r.groups, id)
	return g.Clone(), true
}

// List returns every group ordered by id.
func (r *Registry) List() []models.Group {
	out := make([]models.Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int { return len(r.groups) }
