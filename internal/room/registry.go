// Package room maintains the registry of conference rooms and their member
// sets.
//
// Rooms hold member session ids only, never session handles. All membership
// mutation for a room happens under that room's own mutex; the registry-level
// lock only guards the room map, so rooms are fully independent units of
// concurrency.
package room

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrRoomFull   = errors.New("room: room full")
	ErrRoomExists = errors.New("room: room already exists")
)

// Member is one entry of a room's membership snapshot.
type Member struct {
	SessionID   string
	DisplayName string
}

type roomEntry struct {
	id string

	mu      sync.Mutex
	members map[string]string // session id -> display name
	closed  bool

	createdAt time.Time
	// pinned rooms were pre-created via the HTTP API and survive emptiness
	// until their first member joins.
	pinned     bool
	everJoined bool
}

// Registry maps room ids to member sets and enforces room-level invariants:
// capacity, member uniqueness, and synchronous reclamation of empty rooms.
type Registry struct {
	maxRoomSize int
	now         func() time.Time

	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

func NewRegistry(maxRoomSize int) *Registry {
	if maxRoomSize <= 0 {
		maxRoomSize = 1
	}
	return &Registry{
		maxRoomSize: maxRoomSize,
		now:         time.Now,
		rooms:       make(map[string]*roomEntry),
	}
}

// Join admits sessionID into roomID, creating the room on first join. The
// returned snapshot includes the new member; the returned display name is the
// one actually assigned (deduplicated with a numeric suffix when taken).
//
// A duplicate join of the same session is treated as success and returns the
// current membership, so duplicate join retries are tolerated.
func (r *Registry) Join(roomID, sessionID, displayName string) ([]Member, string, error) {
	for {
		entry := r.getOrCreate(roomID)

		entry.mu.Lock()
		if entry.closed {
			// Lost a race with reclamation; the entry is already unreachable.
			entry.mu.Unlock()
			continue
		}
		if name, ok := entry.members[sessionID]; ok {
			members := entry.snapshotLocked()
			entry.mu.Unlock()
			return members, name, nil
		}
		if len(entry.members) >= r.maxRoomSize {
			empty := len(entry.members) == 0 && !entry.pinned
			entry.mu.Unlock()
			if empty {
				// maxRoomSize could only be hit with zero members if the entry was
				// created by this call racing a misconfigured size; reclaim it.
				r.reclaim(entry)
			}
			return nil, "", ErrRoomFull
		}
		assigned := entry.uniqueDisplayNameLocked(displayName)
		entry.members[sessionID] = assigned
		entry.everJoined = true
		members := entry.snapshotLocked()
		entry.mu.Unlock()
		return members, assigned, nil
	}
}

// Leave removes sessionID from roomID and returns the remaining membership.
// Removing a non-member is a no-op. When the last member leaves, the room is
// reclaimed synchronously; there is no grace period.
func (r *Registry) Leave(roomID, sessionID string) []Member {
	r.mu.RLock()
	entry := r.rooms[roomID]
	r.mu.RUnlock()
	if entry == nil {
		return nil
	}

	entry.mu.Lock()
	delete(entry.members, sessionID)
	members := entry.snapshotLocked()
	reclaim := len(entry.members) == 0 && (entry.everJoined || !entry.pinned)
	if reclaim {
		entry.closed = true
	}
	entry.mu.Unlock()

	if reclaim {
		r.reclaim(entry)
	}
	return members
}

// Members returns the membership snapshot of roomID. Unknown rooms yield an
// empty result, not an error.
func (r *Registry) Members(roomID string) []Member {
	r.mu.RLock()
	entry := r.rooms[roomID]
	r.mu.RUnlock()
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.snapshotLocked()
}

// IsMember reports whether sessionID is currently a member of roomID.
func (r *Registry) IsMember(roomID, sessionID string) bool {
	r.mu.RLock()
	entry := r.rooms[roomID]
	r.mu.RUnlock()
	if entry == nil {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	_, ok := entry.members[sessionID]
	return ok
}

// Exists reports whether roomID currently has a registry entry.
func (r *Registry) Exists(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Create pre-creates an empty pinned room, for callers that want a room id to
// hand out before the first participant connects. Pinned rooms are exempt
// from empty-room reclamation until their first member joins.
func (r *Registry) Create(roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[roomID]; ok {
		return fmt.Errorf("%w: %s", ErrRoomExists, roomID)
	}
	r.rooms[roomID] = &roomEntry{
		id:        roomID,
		members:   make(map[string]string),
		createdAt: r.now(),
		pinned:    true,
	}
	return nil
}

// ReapNeverJoined reclaims pinned rooms that never saw a member within ttl.
// It returns the number of rooms removed.
func (r *Registry) ReapNeverJoined(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)

	r.mu.RLock()
	candidates := make([]*roomEntry, 0)
	for _, entry := range r.rooms {
		candidates = append(candidates, entry)
	}
	r.mu.RUnlock()

	removed := 0
	for _, entry := range candidates {
		entry.mu.Lock()
		stale := entry.pinned && !entry.everJoined && len(entry.members) == 0 &&
			entry.createdAt.Before(cutoff)
		if stale {
			entry.closed = true
		}
		entry.mu.Unlock()
		if stale {
			r.reclaim(entry)
			removed++
		}
	}
	return removed
}

func (r *Registry) getOrCreate(roomID string) *roomEntry {
	r.mu.RLock()
	entry := r.rooms[roomID]
	r.mu.RUnlock()
	if entry != nil {
		return entry
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry := r.rooms[roomID]; entry != nil {
		return entry
	}
	entry = &roomEntry{
		id:        roomID,
		members:   make(map[string]string),
		createdAt: r.now(),
	}
	r.rooms[roomID] = entry
	return entry
}

func (r *Registry) reclaim(entry *roomEntry) {
	r.mu.Lock()
	if r.rooms[entry.id] == entry {
		delete(r.rooms, entry.id)
	}
	r.mu.Unlock()
}

func (e *roomEntry) snapshotLocked() []Member {
	out := make([]Member, 0, len(e.members))
	for id, name := range e.members {
		out = append(out, Member{SessionID: id, DisplayName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// uniqueDisplayNameLocked deduplicates display names within a room by
// appending a numeric suffix (jan, jan2, jan3, ...).
func (e *roomEntry) uniqueDisplayNameLocked(requested string) string {
	if requested == "" {
		return ""
	}
	taken := func(name string) bool {
		for _, existing := range e.members {
			if existing == name {
				return true
			}
		}
		return false
	}
	if !taken(requested) {
		return requested
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s%d", requested, n)
		if !taken(candidate) {
			return candidate
		}
	}
}
