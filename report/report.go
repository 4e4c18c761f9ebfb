// Package report renders classified calendar changes into notification text.
package report

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"calendar-watcher/calsync"
)

const (
	// DefaultMaxChunk is the largest body a single outbound message may carry.
	DefaultMaxChunk = 4096

	// ChangeTitle heads every change notification.
	ChangeTitle = "Calendar updated"
	// ErrorTitle heads operator error reports.
	ErrorTitle = "Calendar sync failed"

	timeLayout = "2006-01-02 15:04"
	dayLayout  = "2006-01-02"
)

var glyphs = map[calsync.ChangeKind]string{
	calsync.ChangeCreated: "🆕",
	calsync.ChangeUpdated: "✏️",
	calsync.ChangeDeleted: "🗑️",
}

// Report is an ordered list of rendered change lines.
type Report struct {
	Lines []string
}

// Empty reports whether there is nothing to send.
func (r Report) Empty() bool {
	return len(r.Lines) == 0
}

// Chunks packs the lines into bodies of at most max characters.
func (r Report) Chunks(max int) []string {
	return Chunk(r.Lines, max)
}

// FromResult builds the report for an incremental pass.
func FromResult(res calsync.Result, loc *time.Location) Report {
	return Build(res.Created, res.Updated, res.Deleted, loc)
}

// Build renders creations, then updates, then deletions, keeping the
// provider's order inside each group.
func Build(created, updated, deleted []calsync.ChangeEntry, loc *time.Location) Report {
	if loc == nil {
		loc = time.UTC
	}
	lines := make([]string, 0, len(created)+len(updated)+len(deleted))
	for _, group := range [][]calsync.ChangeEntry{created, updated, deleted} {
		for _, entry := range group {
			lines = append(lines, renderLine(entry, loc))
		}
	}
	return Report{Lines: lines}
}

func renderLine(entry calsync.ChangeEntry, loc *time.Location) string {
	glyph := glyphs[entry.Kind]
	current := renderSpan(entry.Current, loc)
	if entry.Kind == calsync.ChangeUpdated && entry.Previous != nil {
		return fmt.Sprintf("%s %s  %s → %s", glyph, entry.Current.Title, renderSpan(*entry.Previous, loc), current)
	}
	return fmt.Sprintf("%s %s  %s", glyph, entry.Current.Title, current)
}

func renderSpan(evt calsync.NormalizedEvent, loc *time.Location) string {
	layout := timeLayout
	if evt.AllDay {
		layout = dayLayout
	}
	return evt.Start.In(loc).Format(layout) + " – " + evt.End.In(loc).Format(layout)
}

// ErrorReport renders an operator-facing failure body.
func ErrorReport(calendarID string, err error, at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("⚠️ calendar %s could not be synchronized at %s\n%v", calendarID, at.In(loc).Format(timeLayout), err)
}

// Chunk joins lines with newlines into bodies no longer than max
// characters. Lines are never split unless a single line alone exceeds max.
func Chunk(lines []string, max int) []string {
	if max <= 0 {
		max = DefaultMaxChunk
	}
	var (
		chunks []string
		buf    strings.Builder
		size   int
	)
	flush := func() {
		if size > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
			size = 0
		}
	}
	for _, line := range lines {
		n := utf8.RuneCountInString(line)
		if n > max {
			flush()
			chunks = append(chunks, splitRunes(line, max)...)
			continue
		}
		needed := n
		if size > 0 {
			needed++
		}
		if size+needed > max {
			flush()
			needed = n
		}
		if size > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
		size += needed
	}
	flush()
	return chunks
}

func splitRunes(line string, max int) []string {
	runes := []rune(line)
	out := make([]string, 0, len(runes)/max+1)
	for len(runes) > 0 {
		n := max
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}
