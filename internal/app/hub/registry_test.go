package hub

import (
	"testing"

	"vidchat/internal/app/user"
)

func u(id, name string) user.User {
	return user.User{ID: id, Username: name, Avatar: "https://example.test/" + id}
}

func snapshotIDs(r *Registry) []string {
	snap := r.Snapshot()
	ids := make([]string, len(snap))
	for i, su := range snap {
		ids[i] = su.ID
	}
	return ids
}

func assertIDs(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshot = %v, want %v", got, want)
		}
	}
}

func TestRegistryJoinLeaveSequences(t *testing.T) {
	r := NewRegistry()

	r.Register("c1", u("u1", "alice"))
	r.Register("c2", u("u2", "bob"))
	r.Register("c3", u("u3", "carol"))
	assertIDs(t, snapshotIDs(r), []string{"u1", "u2", "u3"})

	if _, ok := r.Unregister("c2"); !ok {
		t.Fatal("Unregister(c2) reported no identity")
	}
	assertIDs(t, snapshotIDs(r), []string{"u1", "u3"})

	// Rejoin lands at the end of the order.
	r.Register("c4", u("u2", "bob"))
	assertIDs(t, snapshotIDs(r), []string{"u1", "u3", "u2"})

	r.Unregister("c1")
	r.Unregister("c3")
	r.Unregister("c4")
	if got := r.Len(); got != 0 {
		t.Fatalf("Len() = %d after removing everyone, want 0", got)
	}
	assertIDs(t, snapshotIDs(r), nil)
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", u("u1", "alice"))

	connID, ok := r.ResolveUser("u1")
	if !ok || connID != "c1" {
		t.Fatalf("ResolveUser(u1) = %q, %v, want c1, true", connID, ok)
	}
	if _, ok := r.ResolveUser("u2"); ok {
		t.Fatal("ResolveUser(u2) found a connection for an unknown user")
	}

	got, ok := r.UserByConn("c1")
	if !ok || got.ID != "u1" {
		t.Fatalf("UserByConn(c1) = %+v, %v", got, ok)
	}
}

func TestRegistryUnregisterUnknownConn(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Unregister("ghost"); ok {
		t.Fatal("Unregister of an unknown connection reported an identity")
	}
}

// A reconnect overwrites the user lookup while the superseded connection's
// entry survives until its own close. The user appears once in snapshots the
// whole time and the stale close must not disturb the newer mapping.
func TestRegistryReconnectOverwrite(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", u("u1", "alice"))
	r.Register("c2", u("u1", "alice"))

	if connID, _ := r.ResolveUser("u1"); connID != "c2" {
		t.Fatalf("ResolveUser(u1) = %q after reconnect, want c2", connID)
	}

	// Both connections are live, observable as a double entry.
	conns := r.Connections()
	if len(conns) != 2 || conns[0] != "c1" || conns[1] != "c2" {
		t.Fatalf("Connections() = %v, want [c1 c2]", conns)
	}
	assertIDs(t, snapshotIDs(r), []string{"u1"})

	// The stale connection closing must not remove the newer mapping.
	removed, ok := r.Unregister("c1")
	if !ok || removed.ID != "u1" {
		t.Fatalf("Unregister(c1) = %+v, %v", removed, ok)
	}
	if connID, ok := r.ResolveUser("u1"); !ok || connID != "c2" {
		t.Fatalf("ResolveUser(u1) = %q, %v after stale close, want c2, true", connID, ok)
	}
	assertIDs(t, snapshotIDs(r), []string{"u1"})

	r.Unregister("c2")
	if _, ok := r.ResolveUser("u1"); ok {
		t.Fatal("user still resolvable after its live connection closed")
	}
}
