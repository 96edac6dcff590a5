package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/noah-isme/sma-presence-api/internal/models"
)

// RotationHandle is the lifecycle handle of one session's token rotation.
type RotationHandle struct {
	SessionID string
	BaseToken string
	StartedAt time.Time
	Deadline  time.Time

	key      []byte
	inactive atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu       sync.RWMutex
	sequence uint64
	issued   bool
	current  *models.RotatedToken
}

func newRotationHandle(sessionID, baseToken string, key []byte, startedAt time.Time, duration time.Duration) *RotationHandle {
	return &RotationHandle{
		SessionID: sessionID,
		BaseToken: baseToken,
		StartedAt: startedAt,
		Deadline:  startedAt.Add(duration),
		key:       key,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Active reports whether the rotation still emits tokens.
func (h *RotationHandle) Active() bool {
	return h != nil && !h.inactive.Load()
}

// Done is closed once the rotation goroutine has exited.
func (h *RotationHandle) Done() <-chan struct{} {
	return h.done
}

// Current returns the latest token when the rotation is active and the token has not expired.
func (h *RotationHandle) Current(now time.Time) (*models.RotatedToken, bool) {
	if !h.Active() {
		return nil, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current == nil || h.current.Expired(now) {
		return nil, false
	}
	token := *h.current
	return &token, true
}

// nextSequence reserves the next sequence number. Sequences start at 0 and never repeat,
// even when a tick fails after reserving one.
func (h *RotationHandle) nextSequence() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.issued {
		h.issued = true
		return 0
	}
	h.sequence++
	return h.sequence
}

func (h *RotationHandle) publish(token models.RotatedToken) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = &token
}

func (h *RotationHandle) deactivate() {
	h.inactive.Store(true)
}

func (h *RotationHandle) signalStop() {
	h.stopOnce.Do(func() {
		h.inactive.Store(true)
		close(h.stop)
	})
}

// SessionRegistry owns the set of sessions with a running rotation. It is the only
// shared mutable state of the rotator; the lock is never held across I/O.
type SessionRegistry struct {
	mu      sync.Mutex
	entries map[string]*RotationHandle
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{entries: make(map[string]*RotationHandle)}
}

// Register adds h unless an active rotation for the same session exists, in which case
// the existing handle is returned and registered is false.
func (r *SessionRegistry) Register(h *RotationHandle) (existing *RotationHandle, registered bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.entries[h.SessionID]; ok && current.Active() {
		return current, false
	}
	r.entries[h.SessionID] = h
	return h, true
}

// Lookup returns the handle registered for sessionID.
func (r *SessionRegistry) Lookup(sessionID string) (*RotationHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entries[sessionID]
	return h, ok
}

// Unregister removes h. A newer handle registered for the same session is left alone.
func (r *SessionRegistry) Unregister(h *RotationHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.entries[h.SessionID]; ok && current == h {
		delete(r.entries, h.SessionID)
	}
}

// Len returns the number of registered rotations.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Handles returns a snapshot of the registered handles.
func (r *SessionRegistry) Handles() []*RotationHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RotationHandle, 0, len(r.entries))
	for _, h := range r.entries {
		out = append(out, h)
	}
	return out
}
