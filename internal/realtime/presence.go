package realtime

import (
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// GlobalScope is the presence scope for the application shell.
const GlobalScope = "__global__"

// Viewer is one present user as exposed to clients. Socket ids stay internal.
type Viewer struct {
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	UserRole   string    `json:"userRole"`
	UserEmail  string    `json:"userEmail,omitempty"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

type presenceEntry struct {
	viewer   Viewer
	joinedAt time.Time
	sockets  mapset.Set[string]
}

// PresenceRegistry tracks which users have at least one live socket in a
// scope. A user with several tabs appears once.
type PresenceRegistry struct {
	mu     sync.Mutex
	scopes map[string]map[string]*presenceEntry
	now    func() time.Time
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		scopes: make(map[string]map[string]*presenceEntry),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Join adds socketID to the user's entry in scope and returns the new snapshot.
// Rejoining refreshes LastSeenAt.
func (r *PresenceRegistry) Join(scope, socketID string, viewer Viewer) []Viewer {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entries := r.scopes[scope]
	if entries == nil {
		entries = make(map[string]*presenceEntry)
		r.scopes[scope] = entries
	}
	// a socket belongs to one user per scope
	for userID, entry := range entries {
		if userID != viewer.UserID && entry.sockets.Contains(socketID) {
			r.removeSocketLocked(scope, userID, socketID)
		}
	}
	entries = r.scopes[scope]
	if entries == nil {
		entries = make(map[string]*presenceEntry)
		r.scopes[scope] = entries
	}

	entry, ok := entries[viewer.UserID]
	if !ok {
		entry = &presenceEntry{joinedAt: now, sockets: mapset.NewThreadUnsafeSet[string]()}
		entries[viewer.UserID] = entry
	}
	viewer.LastSeenAt = now
	entry.viewer = mergeViewer(entry.viewer, viewer)
	entry.sockets.Add(socketID)
	return r.snapshotLocked(scope)
}

// Leave removes socketID from scope. It reports whether anything changed.
func (r *PresenceRegistry) Leave(scope, socketID string) ([]Viewer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, entry := range r.scopes[scope] {
		if entry.sockets.Contains(socketID) {
			r.removeSocketLocked(scope, userID, socketID)
			return r.snapshotLocked(scope), true
		}
	}
	return r.snapshotLocked(scope), false
}

// Disconnect removes socketID from every scope and returns the fresh snapshot
// of each scope it was part of.
func (r *PresenceRegistry) Disconnect(socketID string) map[string][]Viewer {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := make(map[string][]Viewer)
	for scope, entries := range r.scopes {
		for userID, entry := range entries {
			if entry.sockets.Contains(socketID) {
				r.removeSocketLocked(scope, userID, socketID)
				changed[scope] = nil
			}
		}
	}
	for scope := range changed {
		changed[scope] = r.snapshotLocked(scope)
	}
	return changed
}

func (r *PresenceRegistry) Snapshot(scope string) []Viewer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(scope)
}

// HasScope reports whether any user is present in scope.
func (r *PresenceRegistry) HasScope(scope string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.scopes[scope]
	return ok
}

func (r *PresenceRegistry) removeSocketLocked(scope, userID, socketID string) {
	entries := r.scopes[scope]
	entry := entries[userID]
	entry.sockets.Remove(socketID)
	if entry.sockets.Cardinality() > 0 {
		return
	}
	delete(entries, userID)
	if len(entries) == 0 {
		delete(r.scopes, scope)
	}
}

func (r *PresenceRegistry) snapshotLocked(scope string) []Viewer {
	entries := r.scopes[scope]
	ordered := make([]*presenceEntry, 0, len(entries))
	for _, entry := range entries {
		ordered = append(ordered, entry)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].joinedAt.Equal(ordered[j].joinedAt) {
			return ordered[i].viewer.UserID < ordered[j].viewer.UserID
		}
		return ordered[i].joinedAt.Before(ordered[j].joinedAt)
	})
	viewers := make([]Viewer, 0, len(ordered))
	for _, entry := range ordered {
		viewers = append(viewers, entry.viewer)
	}
	return viewers
}

func mergeViewer(current, next Viewer) Viewer {
	current.UserID = next.UserID
	current.LastSeenAt = next.LastSeenAt
	if next.UserName != "" {
		current.UserName = next.UserName
	}
	if next.UserRole != "" {
		current.UserRole = next.UserRole
	}
	if next.UserEmail != "" {
		current.UserEmail = next.UserEmail
	}
	return current
}
