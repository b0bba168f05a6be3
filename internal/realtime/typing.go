package realtime

import (
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

const DefaultTypingTTL = 2 * time.Second

// Typer is one user currently typing on a task. ClientIDs lets a device
// recognise its own signal.
type Typer struct {
	TaskID       string    `json:"taskId"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	UserRole     string    `json:"userRole"`
	ClientIDs    []string  `json:"clientIds"`
	LastTypingAt time.Time `json:"lastTypingAt"`
}

// TypingSignal is one typing update from a device.
type TypingSignal struct {
	TaskID   string
	ClientID string
	SocketID string
	UserID   string
	UserName string
	UserRole string
	IsTyping bool
}

type typingKey struct {
	taskID string
	userID string
}

type typingEntry struct {
	typer   Typer
	clients mapset.Set[string]
}

type typingTimer struct {
	timer  *time.Timer
	gen    uint64
	signal TypingSignal
}

// TypingRegistry tracks typing users per task. Each client id is cleared
// automatically ttl after its last signal.
type TypingRegistry struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[typingKey]*typingEntry
	timers   map[string]*typingTimer
	sockets  map[string]mapset.Set[string]
	gen      uint64
	now      func() time.Time
	onExpire func(TypingSignal)
}

// NewTypingRegistry builds a registry. onExpire runs outside the registry lock
// whenever a signal times out.
func NewTypingRegistry(ttl time.Duration, onExpire func(TypingSignal)) *TypingRegistry {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingRegistry{
		ttl:      ttl,
		entries:  make(map[typingKey]*typingEntry),
		timers:   make(map[string]*typingTimer),
		sockets:  make(map[string]mapset.Set[string]),
		now:      func() time.Time { return time.Now().UTC() },
		onExpire: onExpire,
	}
}

// Set applies a signal. Repeated signals from the same client collapse into
// one entry and re-arm its timer.
func (r *TypingRegistry) Set(signal TypingSignal) {
	if signal.TaskID == "" || signal.ClientID == "" || signal.UserID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !signal.IsTyping {
		r.clearLocked(signal.TaskID, signal.ClientID)
		return
	}

	userKey := typingKey{taskID: signal.TaskID, userID: signal.UserID}
	entry, ok := r.entries[userKey]
	if !ok {
		entry = &typingEntry{clients: mapset.NewThreadUnsafeSet[string]()}
		r.entries[userKey] = entry
	}
	entry.typer.TaskID = signal.TaskID
	entry.typer.UserID = signal.UserID
	if signal.UserName != "" {
		entry.typer.UserName = signal.UserName
	}
	if signal.UserRole != "" {
		entry.typer.UserRole = signal.UserRole
	}
	entry.typer.LastTypingAt = r.now()
	entry.clients.Add(signal.ClientID)

	key := timerKey(signal.TaskID, signal.ClientID)
	// A client id that reconnected on a new socket now belongs to that socket
	// only; the old socket's late disconnect must not clear it.
	if existing, ok := r.timers[key]; ok && existing.signal.SocketID != signal.SocketID {
		r.releaseLocked(existing.signal.SocketID, key)
	}
	if signal.SocketID != "" {
		owned, ok := r.sockets[signal.SocketID]
		if !ok {
			owned = mapset.NewThreadUnsafeSet[string]()
			r.sockets[signal.SocketID] = owned
		}
		owned.Add(key)
	}
	r.armLocked(signal)
}

// Disconnect clears every signal sent through socketID and returns them.
func (r *TypingRegistry) Disconnect(socketID string) []TypingSignal {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned, ok := r.sockets[socketID]
	if !ok {
		return nil
	}
	delete(r.sockets, socketID)
	var cleared []TypingSignal
	for _, key := range owned.ToSlice() {
		t, ok := r.timers[key]
		if !ok {
			continue
		}
		signal := t.signal
		r.clearLocked(signal.TaskID, signal.ClientID)
		signal.IsTyping = false
		cleared = append(cleared, signal)
	}
	return cleared
}

// Snapshot returns every typer across tasks.
func (r *TypingRegistry) Snapshot() []Typer {
	return r.snapshot("")
}

// TaskSnapshot returns the typers of one task.
func (r *TypingRegistry) TaskSnapshot(taskID string) []Typer {
	return r.snapshot(taskID)
}

func (r *TypingRegistry) snapshot(taskID string) []Typer {
	r.mu.Lock()
	defer r.mu.Unlock()

	typers := make([]Typer, 0, len(r.entries))
	for key, entry := range r.entries {
		if taskID != "" && key.taskID != taskID {
			continue
		}
		typer := entry.typer
		typer.ClientIDs = entry.clients.ToSlice()
		sort.Strings(typer.ClientIDs)
		typers = append(typers, typer)
	}
	sort.Slice(typers, func(i, j int) bool {
		if typers[i].TaskID != typers[j].TaskID {
			return typers[i].TaskID < typers[j].TaskID
		}
		return typers[i].UserID < typers[j].UserID
	})
	return typers
}

// Stop cancels all pending expiry timers.
func (r *TypingRegistry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range r.timers {
		t.timer.Stop()
		delete(r.timers, key)
	}
}

func (r *TypingRegistry) armLocked(signal TypingSignal) {
	key := timerKey(signal.TaskID, signal.ClientID)
	if existing, ok := r.timers[key]; ok {
		existing.timer.Stop()
	}
	r.gen++
	gen := r.gen
	r.timers[key] = &typingTimer{
		gen:    gen,
		signal: signal,
		timer:  time.AfterFunc(r.ttl, func() { r.expire(key, gen) }),
	}
}

func (r *TypingRegistry) expire(key string, gen uint64) {
	r.mu.Lock()
	t, ok := r.timers[key]
	if !ok || t.gen != gen {
		r.mu.Unlock()
		return
	}
	signal := t.signal
	r.clearLocked(signal.TaskID, signal.ClientID)
	r.mu.Unlock()

	signal.IsTyping = false
	if r.onExpire != nil {
		r.onExpire(signal)
	}
}

// clearLocked drops clientID from its task entry and stops its timer.
func (r *TypingRegistry) clearLocked(taskID, clientID string) {
	key := timerKey(taskID, clientID)
	if t, ok := r.timers[key]; ok {
		t.timer.Stop()
		delete(r.timers, key)
		r.releaseLocked(t.signal.SocketID, key)
	}
	for entryKey, entry := range r.entries {
		if entryKey.taskID != taskID || !entry.clients.Contains(clientID) {
			continue
		}
		entry.clients.Remove(clientID)
		if entry.clients.Cardinality() == 0 {
			delete(r.entries, entryKey)
		}
	}
}

// releaseLocked forgets that socketID owns the timer key.
func (r *TypingRegistry) releaseLocked(socketID, key string) {
	if socketID == "" {
		return
	}
	if owned, ok := r.sockets[socketID]; ok {
		owned.Remove(key)
		if owned.Cardinality() == 0 {
			delete(r.sockets, socketID)
		}
	}
}

func timerKey(taskID, clientID string) string {
	return taskID + "\x00" + clientID
}
