/*
Package hub contains the core logic for presence tracking, chat fanout, and
call signaling relay.

This file defines the Registry, the single source of truth for which users
are online. It maps live connection ids to user identities and back. The
Registry is not safe for concurrent use: all access happens on the Hub's
event loop.
*/
package hub

import "vidchat/internal/app/user"

// presenceEntry is one live Connection-to-User binding.
type presenceEntry struct {
	connID string
	user   user.User
}

// Registry holds the bidirectional Connection/User association.
//
// A user reconnecting without the prior connection closing overwrites the
// user-to-connection lookup, but the stale connection's entry survives until
// that connection's own close. Unregister guards against the stale entry
// clobbering the newer mapping.
type Registry struct {
	// entries maps connection id to its presence entry.
	entries map[string]*presenceEntry

	// byUser maps user id to the connection id of the most recent Register.
	byUser map[string]string

	// order lists connection ids in Register order, for stable snapshots.
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*presenceEntry),
		byUser:  make(map[string]string),
	}
}

// Register binds connection to user in both directions. A prior binding for
// the same user id is overwritten (reconnect without explicit logout); the
// previous connection's own entry is left in place until it closes.
func (r *Registry) Register(connID string, u user.User) {
	if _, exists := r.entries[connID]; !exists {
		r.order = append(r.order, connID)
	}

	r.entries[connID] = &presenceEntry{connID: connID, user: u}
	r.byUser[u.ID] = connID
}

// ResolveUser returns the connection id currently bound to the given user id.
func (r *Registry) ResolveUser(userID string) (string, bool) {
	connID, ok := r.byUser[userID]
	return connID, ok
}

// UserByConn returns the user announced on the given connection.
func (r *Registry) UserByConn(connID string) (user.User, bool) {
	entry, ok := r.entries[connID]
	if !ok {
		return user.User{}, false
	}
	return entry.user, true
}

// Unregister removes the connection's entry. The user-to-connection lookup is
// removed only if it still points at this connection, so a reconnect that
// already superseded the mapping is not disturbed. Returns the removed user,
// or false if the connection never announced an identity.
func (r *Registry) Unregister(connID string) (user.User, bool) {
	entry, ok := r.entries[connID]
	if !ok {
		return user.User{}, false
	}

	delete(r.entries, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if current, ok := r.byUser[entry.user.ID]; ok && current == connID {
		delete(r.byUser, entry.user.ID)
	}

	return entry.user, true
}

// Snapshot returns the distinct active users in the insertion order of their
// presence entries. A user briefly present on two connections (stale entry
// after a reconnect) appears once.
func (r *Registry) Snapshot() []user.User {
	seen := make(map[string]struct{}, len(r.order))
	users := make([]user.User, 0, len(r.order))

	for _, connID := range r.order {
		entry, ok := r.entries[connID]
		if !ok {
			continue
		}
		if _, dup := seen[entry.user.ID]; dup {
			continue
		}
		seen[entry.user.ID] = struct{}{}
		users = append(users, entry.user)
	}

	return users
}

// Connections returns the live connection ids in Register order. Used by
// tests to observe stale double entries after a reconnect.
func (r *Registry) Connections() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of live presence entries.
func (r *Registry) Len() int {
	return len(r.entries)
}
