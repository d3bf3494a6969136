package permission

import (
	"errors"
	"testing"
)

func TestRoleCacheGuard(t *testing.T) {
	rc := NewRoleCache()
	rc.Replace([]Role{
		{ID: 1, Name: "admin", IsSystemRole: true},
		{ID: 5, Name: "editor"},
	})

	if err := rc.Guard(1); !errors.Is(err, ErrSystemRoleImmutable) {
		t.Fatalf("expected ErrSystemRoleImmutable, got %v", err)
	}
	if err := rc.Guard(5); err != nil {
		t.Fatalf("custom role guarded: %v", err)
	}
	if err := rc.Guard(99); err != nil {
		t.Fatalf("unknown role should pass the local guard: %v", err)
	}
}

func TestRoleCacheListAndMutations(t *testing.T) {
	rc := NewRoleCache()
	rc.Put(Role{ID: 3, Name: "c"})
	rc.Put(Role{ID: 1, Name: "a"})
	rc.Put(Role{ID: 2, Name: "b"})
	rc.Remove(2)

	list := rc.List()
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 3 {
		t.Fatalf("unexpected list: %+v", list)
	}
	if r, ok := rc.ByName("c"); !ok || r.ID != 3 {
		t.Fatalf("ByName failed: %+v %v", r, ok)
	}
	if _, ok := rc.Get(2); ok {
		t.Fatal("removed role still cached")
	}
}

func TestRoleCacheSummariesHaveNoKnownGrants(t *testing.T) {
	rc := NewRoleCache()
	rc.Replace([]Role{{ID: 7, Name: "editor", PermissionCount: 3}})
	if _, ok := rc.Detailed(7); ok {
		t.Fatal("listing entry reported as detailed")
	}
	if _, ok := rc.Get(7); !ok {
		t.Fatal("listing entry missing")
	}

	rc.Put(Role{ID: 7, Name: "editor", Permissions: []Permission{{ID: 1}, {ID: 2}, {ID: 3}}})
	rc.PutSummary(Role{ID: 7, Name: "editor"})
	r, ok := rc.Detailed(7)
	if !ok || !r.PermissionIDs().Equal(NewIDSet(1, 2, 3)) {
		t.Fatalf("summary overwrote a detailed entry: %+v %v", r, ok)
	}

	rc.Replace([]Role{{ID: 7, Name: "editor"}})
	if _, ok := rc.Detailed(7); ok {
		t.Fatal("expected a new listing to demote entries to summaries")
	}
}
