package calsync

import (
	"strings"
	"time"
)

// UntitledTitle replaces a missing event summary.
const UntitledTitle = "(untitled)"

const dateLayout = "2006-01-02"

// RawTime is one boundary of a provider event: a timestamp, a date, or neither.
type RawTime struct {
	DateTime string
	Date     string
}

// RawEvent is the provider-neutral form of a calendar event record as it
// arrives from a list call.
type RawEvent struct {
	ID      string
	Status  string
	Summary string
	Start   *RawTime
	End     *RawTime
}

// Cancelled reports whether the record marks the event as removed.
func (r RawEvent) Cancelled() bool {
	return strings.EqualFold(strings.TrimSpace(r.Status), "cancelled")
}

// NormalizedEvent is the canonical form stored in a snapshot.
type NormalizedEvent struct {
	ID     string    `json:"id"`
	Title  string    `json:"title"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day,omitempty"`
}

// SameAs compares the fields that make a change observable: title, start and end.
func (e NormalizedEvent) SameAs(other NormalizedEvent) bool {
	return e.Title == other.Title && e.Start.Equal(other.Start) && e.End.Equal(other.End)
}

// Normalize converts a raw record into a NormalizedEvent. Date-only
// boundaries resolve to midnight in loc. The second return value is false
// when the record has no id or either boundary cannot be resolved.
func Normalize(raw RawEvent, loc *time.Location) (NormalizedEvent, bool) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return NormalizedEvent{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	start, startAllDay, ok := resolveTime(raw.Start, loc)
	if !ok {
		return NormalizedEvent{}, false
	}
	end, _, ok := resolveTime(raw.End, loc)
	if !ok {
		return NormalizedEvent{}, false
	}
	title := strings.TrimSpace(raw.Summary)
	if title == "" {
		title = UntitledTitle
	}
	return NormalizedEvent{
		ID:     id,
		Title:  title,
		Start:  start,
		End:    end,
		AllDay: startAllDay,
	}, true
}

// resolveTime prefers the precise timestamp over the date-only field.
func resolveTime(rt *RawTime, loc *time.Location) (time.Time, bool, bool) {
	if rt == nil {
		return time.Time{}, false, false
	}
	if value := strings.TrimSpace(rt.DateTime); value != "" {
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, false, false
		}
		return t, false, true
	}
	if value := strings.TrimSpace(rt.Date); value != "" {
		t, err := time.ParseInLocation(dateLayout, value, loc)
		if err != nil {
			return time.Time{}, false, false
		}
		return t, true, true
	}
	return time.Time{}, false, false
}
