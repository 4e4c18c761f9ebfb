package report

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"calendar-watcher/calsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jst = time.FixedZone("UTC+09:00", 9*60*60)

func entry(kind calsync.ChangeKind, title string, start time.Time) calsync.ChangeEntry {
	return calsync.ChangeEntry{
		Kind:    kind,
		Current: calsync.NormalizedEvent{ID: title, Title: title, Start: start, End: start.Add(time.Hour)},
	}
}

func TestBuildOrdersGroups(t *testing.T) {
	start := time.Date(2026, 10, 14, 1, 0, 0, 0, time.UTC) // 10:00 in UTC+9
	prev := calsync.NormalizedEvent{ID: "u1", Title: "Sync", Start: start.Add(-time.Hour), End: start}
	updated := entry(calsync.ChangeUpdated, "Sync", start)
	updated.Previous = &prev

	rep := Build(
		[]calsync.ChangeEntry{entry(calsync.ChangeCreated, "New A", start), entry(calsync.ChangeCreated, "New B", start)},
		[]calsync.ChangeEntry{updated},
		[]calsync.ChangeEntry{entry(calsync.ChangeDeleted, "Gone", start)},
		jst,
	)

	require.Len(t, rep.Lines, 4)
	assert.Equal(t, "🆕 New A  2026-10-14 10:00 – 2026-10-14 11:00", rep.Lines[0])
	assert.True(t, strings.HasPrefix(rep.Lines[1], "🆕 New B"))
	assert.Equal(t, "✏️ Sync  2026-10-14 09:00 – 2026-10-14 10:00 → 2026-10-14 10:00 – 2026-10-14 11:00", rep.Lines[2])
	assert.Equal(t, "🗑️ Gone  2026-10-14 10:00 – 2026-10-14 11:00", rep.Lines[3])
}

func TestBuildAllDay(t *testing.T) {
	day := time.Date(2026, 10, 20, 0, 0, 0, 0, jst)
	e := calsync.ChangeEntry{
		Kind:    calsync.ChangeDeleted,
		Current: calsync.NormalizedEvent{ID: "h", Title: "Holiday", Start: day, End: day.AddDate(0, 0, 1), AllDay: true},
	}
	rep := Build(nil, nil, []calsync.ChangeEntry{e}, jst)
	require.Equal(t, []string{"🗑️ Holiday  2026-10-20 – 2026-10-21"}, rep.Lines)
}

func TestEmpty(t *testing.T) {
	rep := FromResult(calsync.Result{}, jst)
	require.True(t, rep.Empty())
	require.Empty(t, rep.Chunks(DefaultMaxChunk))
}

func TestChunkKeepsLinesWhole(t *testing.T) {
	lines := []string{strings.Repeat("a", 6), strings.Repeat("b", 3), strings.Repeat("c", 5), "d"}
	chunks := Chunk(lines, 10)
	require.Equal(t, []string{"aaaaaa\nbbb", "ccccc\nd"}, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(c), 10)
	}
}

func TestChunkCountsRunes(t *testing.T) {
	lines := []string{"🗑️ü", "äö"}
	// "🗑️ü" is three runes; with the newline both fit in six.
	require.Equal(t, []string{"🗑️ü\näö"}, Chunk(lines, 6))
}

func TestChunkSplitsOversizedLine(t *testing.T) {
	chunks := Chunk([]string{"short", strings.Repeat("x", 25)}, 10)
	require.Equal(t, []string{"short", strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)
}

func TestChunkDefaultLimit(t *testing.T) {
	line := strings.Repeat("z", 1000)
	chunks := Chunk([]string{line, line, line, line, line}, 0)
	require.Len(t, chunks, 2)
	require.LessOrEqual(t, len(chunks[0]), DefaultMaxChunk)
}

func TestErrorReport(t *testing.T) {
	at := time.Date(2026, 10, 14, 0, 5, 0, 0, time.UTC)
	body := ErrorReport("primary", errors.New("boom"), at, jst)
	require.Contains(t, body, "primary")
	require.Contains(t, body, "2026-10-14 09:05")
	require.Contains(t, body, "boom")
}
