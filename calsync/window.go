package calsync

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultHorizon bounds the initial full scan.
	DefaultHorizon = 14 * 24 * time.Hour
	// DefaultOffset is the civil offset used when none is configured (UTC+9).
	DefaultOffset = 9 * time.Hour
)

// Policy is the rolling retention window anchored on local midnight in a
// fixed UTC offset. It never consults the host timezone database.
type Policy struct {
	Location *time.Location
	Horizon  time.Duration
}

// NewPolicy builds a Policy for a fixed offset east of UTC.
func NewPolicy(offset time.Duration, horizon time.Duration) Policy {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return Policy{
		Location: time.FixedZone(formatOffset(offset), int(offset/time.Second)),
		Horizon:  horizon,
	}
}

// DefaultPolicy returns the UTC+9, 14-day policy.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultOffset, DefaultHorizon)
}

// Window returns local midnight of now's civil day and that instant plus the horizon.
func (p Policy) Window(now time.Time) (time.Time, time.Time) {
	loc := p.location()
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.Add(p.horizon())
}

// IsFuture is the sole snapshot membership test: the event has not ended yet.
// The window deliberately plays no part here; an event admitted by an
// incremental pass stays until it ends even if it starts past the horizon.
func IsFuture(e NormalizedEvent, now time.Time) bool {
	return e.End.After(now)
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.FixedZone(formatOffset(DefaultOffset), int(DefaultOffset/time.Second))
	}
	return p.Location
}

func (p Policy) horizon() time.Duration {
	if p.Horizon <= 0 {
		return DefaultHorizon
	}
	return p.Horizon
}

// ParseOffset parses "+09:00", "-05:30", "+9" or "UTC+09:00" style offsets.
func ParseOffset(raw string) (time.Duration, error) {
	value := strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(raw)), "UTC"))
	if value == "" || value == "Z" {
		return 0, nil
	}
	sign := time.Duration(1)
	switch value[0] {
	case '+':
		value = value[1:]
	case '-':
		sign = -1
		value = value[1:]
	}
	hoursPart, minutesPart, hasMinutes := strings.Cut(value, ":")
	hours, err := strconv.Atoi(hoursPart)
	if err != nil || hours < 0 || hours > 14 {
		return 0, fmt.Errorf("invalid utc offset %q", raw)
	}
	minutes := 0
	if hasMinutes {
		minutes, err = strconv.Atoi(minutesPart)
		if err != nil || minutes < 0 || minutes >= 60 {
			return 0, fmt.Errorf("invalid utc offset %q", raw)
		}
	}
	return sign * (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute), nil
}

func formatOffset(offset time.Duration) string {
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	hours := int(offset / time.Hour)
	minutes := int((offset % time.Hour) / time.Minute)
	return fmt.Sprintf("UTC%s%02d:%02d", sign, hours, minutes)
}
