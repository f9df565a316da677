// Package presence tracks which usernames are currently joined and which
// transport connection owns each of them. The Registry is the single source
// of truth broadcast to clients on every membership change.
package presence

import (
	"log/slog"
	"sort"
	"sync"
)

// ConnID is the opaque token the transport issues per physical connection.
type ConnID string

// Registry holds the connection-to-identity mapping and the set of joined
// usernames. All operations are atomic with respect to each other: a name
// reserved by TryClaim is visible to every later availability check, and
// Release removes the binding and the name as one unit.
type Registry struct {
	mu    sync.RWMutex
	names map[string]ConnID // username -> owning connection ("" while only claimed)
	conns map[ConnID]string // connection -> bound username
}

func NewRegistry() *Registry {
	return &Registry{
		names: make(map[string]ConnID),
		conns: make(map[ConnID]string),
	}
}

// TryClaim reserves username if no live session holds it. The reservation is
// authoritative: concurrent callers never both see the name as free.
func (r *Registry) TryClaim(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.names[username]; taken {
		return false
	}
	r.names[username] = ""
	return true
}

// Bind records the connection-to-identity mapping after a successful claim.
// Binding a name that was never claimed indicates a bug in the coordinator's
// serialization discipline and is logged loudly.
func (r *Registry) Bind(conn ConnID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, claimed := r.names[username]; !claimed {
		slog.Error("presence invariant violated: bind without claim",
			"userName", username, "connectionId", string(conn))
		return
	}
	r.names[username] = conn
	r.conns[conn] = username
}

// Release drops the connection's binding and frees its username. It is
// idempotent: releasing an unbound connection is a no-op and reports ok=false.
func (r *Registry) Release(conn ConnID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok := r.conns[conn]
	if !ok {
		return "", false
	}
	delete(r.conns, conn)
	delete(r.names, username)
	return username, true
}

// IsAvailable reports whether username is currently unclaimed. The answer is
// advisory; only TryClaim decides, so a check-then-claim race cannot admit
// two owners.
func (r *Registry) IsAvailable(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, taken := r.names[username]
	return !taken
}

// Snapshot returns the joined usernames at a single consistent point in
// time, sorted for stable broadcast payloads.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.names))
	for username := range r.names {
		users = append(users, username)
	}
	sort.Strings(users)
	return users
}

// Owner returns the connection currently bound to username.
func (r *Registry) Owner(username string) (ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.names[username]
	if !ok || conn == "" {
		return "", false
	}
	return conn, true
}
