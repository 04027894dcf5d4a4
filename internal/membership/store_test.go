package membership

import (
	"testing"

	"github.com/example/session-coordinator/internal/models"
)

func TestUpsertReplacesWholeRecord(t *testing.T) {
	s := NewStore()
	s.Upsert(models.Participant{ID: "c1", Name: "Ada", Role: models.RoleDriver, ExternalUserID: "u1"})
	s.Upsert(models.Participant{ID: "c1", Name: "Ada L", Role: models.RoleRider})

	if s.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", s.Len())
	}
	p, ok := s.Get("c1")
	if !ok {
		t.Fatal("record missing")
	}
	if p.Name != "Ada L" || p.Role != models.RoleRider {
		t.Fatalf("expected latest attrs, got %+v", p)
	}
	if p.ExternalUserID != "" {
		t.Fatalf("expected replace not merge, external id survived: %q", p.ExternalUserID)
	}
}

func TestRemoveAbsentIsNotAnError(t *testing.T) {
	s := NewStore()
	if _, ok := s.Remove("ghost"); ok {
		t.Fatal("expected absent")
	}
	s.Upsert(models.Participant{ID: "c1", GroupID: "r1"})
	p, ok := s.Remove("c1")
	if !ok || p.GroupID != "r1" {
		t.Fatalf("expected removed record with group, got %+v ok=%v", p, ok)
	}
	if _, ok := s.Remove("c1"); ok {
		t.Fatal("second remove should report absent")
	}
}

func TestListOrderFollowsLastUpsert(t *testing.T) {
	s := NewStore()
	s.Upsert(models.Participant{ID: "a", Role: models.RoleDriver})
	s.Upsert(models.Participant{ID: "b", Role: models.RoleDriver})
	s.Upsert(models.Participant{ID: "c", Role: models.RoleRider})
	s.Upsert(models.Participant{ID: "a", Role: models.RoleDriver})

	drivers := s.ListByRole(models.RoleDriver)
	if len(drivers) != 2 || drivers[0].ID != "b" || drivers[1].ID != "a" {
		t.Fatalf("unexpected driver order: %+v", drivers)
	}
	if got := s.ListByRole(models.RoleMember); len(got) != 0 {
		t.Fatalf("expected no members, got %d", len(got))
	}
}

func TestListByGroup(t *testing.T) {
	s := NewStore()
	s.Upsert(models.Participant{ID: "a", GroupID: "r1"})
	s.Upsert(models.Participant{ID: "b", GroupID: "r2"})
	s.Upsert(models.Participant{ID: "c", GroupID: "r1"})

	got := s.ListByGroup("r1")
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected group listing: %+v", got)
	}
}
