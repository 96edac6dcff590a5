package geofence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// EventType is the direction of a fence crossing.
type EventType string

const (
	EventEnter EventType = "enter"
	EventExit  EventType = "exit"
)

var errInvalidEvent = errors.New("invalid geofence event")

// Event is a subject crossing a fence boundary, as published by the geofencing service.
type Event struct {
	SubjectID  string    `json:"subject_id"`
	FenceID    string    `json:"fence_id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ParseEvent decodes and validates a JSON event. fenceID, when not empty, fills in a
// missing fence id taken from the topic.
func ParseEvent(data []byte, fenceID string) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("%w: %v", errInvalidEvent, err)
	}
	if evt.FenceID == "" {
		evt.FenceID = fenceID
	}
	evt.Type = EventType(strings.ToLower(string(evt.Type)))
	if evt.SubjectID == "" || evt.FenceID == "" {
		return Event{}, fmt.Errorf("%w: subject and fence are required", errInvalidEvent)
	}
	if evt.Type != EventEnter && evt.Type != EventExit {
		return Event{}, fmt.Errorf("%w: unknown type %q", errInvalidEvent, evt.Type)
	}
	return evt, nil
}

type trackKey struct {
	subject string
	fence   string
}

type trackState struct {
	inside bool
	at     time.Time
}

// Tracker remembers the last known fence state of each subject. Stale states older than
// the configured TTL are treated as unknown.
type Tracker struct {
	mu     sync.RWMutex
	states map[trackKey]trackState
	ttl    time.Duration
	now    func() time.Time
}

// NewTracker constructs a Tracker. A zero ttl keeps states forever.
func NewTracker(ttl time.Duration, clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{states: make(map[trackKey]trackState), ttl: ttl, now: clock}
}

// Apply records evt. Events older than the stored state are ignored so out-of-order
// delivery cannot flip the state back.
func (t *Tracker) Apply(evt Event) {
	at := evt.OccurredAt
	if at.IsZero() {
		at = t.now()
	}
	key := trackKey{subject: evt.SubjectID, fence: evt.FenceID}
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.states[key]; ok && at.Before(current.at) {
		return
	}
	t.states[key] = trackState{inside: evt.Type == EventEnter, at: at}
}

// Inside returns the last known state for subject in fence, or nil when unknown.
func (t *Tracker) Inside(subjectID, fenceID string) *bool {
	t.mu.RLock()
	state, ok := t.states[trackKey{subject: subjectID, fence: fenceID}]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	if t.ttl > 0 && t.now().Sub(state.at) > t.ttl {
		return nil
	}
	inside := state.inside
	return &inside
}
