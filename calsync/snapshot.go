package calsync

import (
	"sort"
	"time"
)

// Snapshot is every currently known future event, keyed by event id.
type Snapshot struct {
	Events    map[string]NormalizedEvent `json:"events"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// NewSnapshot returns an empty snapshot stamped with now.
func NewSnapshot(now time.Time) Snapshot {
	return Snapshot{Events: make(map[string]NormalizedEvent), UpdatedAt: now}
}

// Clone returns a deep copy safe to mutate without touching s.
func (s Snapshot) Clone() Snapshot {
	events := make(map[string]NormalizedEvent, len(s.Events))
	for id, evt := range s.Events {
		events[id] = evt
	}
	return Snapshot{Events: events, UpdatedAt: s.UpdatedAt}
}

// Len returns the number of events held.
func (s Snapshot) Len() int {
	return len(s.Events)
}

// Get returns the event stored under id.
func (s Snapshot) Get(id string) (NormalizedEvent, bool) {
	evt, ok := s.Events[id]
	return evt, ok
}

// Sorted lists events by start, then id.
func (s Snapshot) Sorted() []NormalizedEvent {
	out := make([]NormalizedEvent, 0, len(s.Events))
	for _, evt := range s.Events {
		out = append(out, evt)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// evictEnded drops members that are no longer future. Nothing is reported.
func (s Snapshot) evictEnded(now time.Time) int {
	evicted := 0
	for id, evt := range s.Events {
		if !IsFuture(evt, now) {
			delete(s.Events, id)
			evicted++
		}
	}
	return evicted
}
