package node

import "time"

// EventType identifies a kind of history event. A node's history
// contains at most one event of each type; writing a new event of a
// type overwrites the prior one.
type EventType string

const (
	EventProvisioned EventType = "provisioned"
	EventReadied     EventType = "readied"
	EventReserved    EventType = "reserved"
	EventActivated   EventType = "activated"
	EventRequested   EventType = "requested"
	EventDown        EventType = "down"
	EventFailed      EventType = "failed"
	EventDeactivated EventType = "deactivated"
	EventParked      EventType = "parked"
	EventDirtied     EventType = "dirtied"
)

// Event is a single history entry: what happened, who caused it, and
// when.
type Event struct {
	Type    EventType
	Agent   string
	Instant time.Time
}

// History is the ordered append-or-replace-by-type event log attached
// to a node. The zero value is an empty history.
type History []Event

// Events returns the history in insertion order. Replacing an event
// of an existing type updates it in place rather than appending, so
// insertion order reflects first occurrence of each type.
func (h History) Events() []Event {
	out := make([]Event, len(h))
	copy(out, h)
	return out
}

// MostRecent returns the (single) event of the given type, if any.
// "Most recent" is by construction: Put replaces rather than appends.
func (h History) MostRecent(t EventType) (Event, bool) {
	for _, e := range h {
		if e.Type == t {
			return e, true
		}
	}
	return Event{}, false
}

// At returns the instant of the event of the given type, if any.
func (h History) At(t EventType) (time.Time, bool) {
	e, ok := h.MostRecent(t)
	if !ok {
		return time.Time{}, false
	}
	return e.Instant, true
}

// Put appends an event, or overwrites the existing event of the same
// type in place. Returns the updated history.
func (h History) Put(e Event) History {
	for i := range h {
		if h[i].Type == e.Type {
			h[i] = e
			return h
		}
	}
	return append(h, e)
}

// Remove deletes the event of the given type, if present. Returns the
// updated history.
func (h History) Remove(t EventType) History {
	for i := range h {
		if h[i].Type == t {
			return append(h[:i], h[i+1:]...)
		}
	}
	return h
}

// Has reports whether an event of the given type is present.
func (h History) Has(t EventType) bool {
	_, ok := h.MostRecent(t)
	return ok
}

// OlderThan reports whether the event of the given type exists and
// its instant is strictly before cutoff.
func (h History) OlderThan(t EventType, cutoff time.Time) bool {
	at, ok := h.At(t)
	return ok && at.Before(cutoff)
}
