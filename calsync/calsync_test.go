package calsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var jst = time.FixedZone("UTC+09:00", 9*60*60)

// fakeProvider serves pages keyed by page token ("" is the first page).
type fakeProvider struct {
	pages    map[string]ListPage
	errs     map[string]error
	requests []ListRequest
}

func (f *fakeProvider) ListEvents(ctx context.Context, req ListRequest) (ListPage, error) {
	f.requests = append(f.requests, req)
	if err, ok := f.errs[req.PageToken]; ok {
		return ListPage{}, err
	}
	return f.pages[req.PageToken], nil
}

func singlePage(token string, items ...RawEvent) *fakeProvider {
	return &fakeProvider{pages: map[string]ListPage{"": {Items: items, NextSyncToken: token}}}
}

func timed(id, title string, start, end time.Time) RawEvent {
	return RawEvent{
		ID:      id,
		Status:  "confirmed",
		Summary: title,
		Start:   &RawTime{DateTime: start.Format(time.RFC3339)},
		End:     &RawTime{DateTime: end.Format(time.RFC3339)},
	}
}

func cancelled(id string) RawEvent {
	return RawEvent{ID: id, Status: "cancelled"}
}

func event(id, title string, start, end time.Time) NormalizedEvent {
	return NormalizedEvent{ID: id, Title: title, Start: start, End: end}
}

func TestNormalize(t *testing.T) {
	start := time.Date(2026, 10, 14, 10, 0, 0, 0, jst)

	t.Run("timed event", func(t *testing.T) {
		evt, ok := Normalize(timed("a", "Standup", start, start.Add(time.Hour)), jst)
		require.True(t, ok)
		require.Equal(t, "a", evt.ID)
		require.Equal(t, "Standup", evt.Title)
		require.True(t, evt.Start.Equal(start))
		require.True(t, evt.End.Equal(start.Add(time.Hour)))
		require.False(t, evt.AllDay)
	})

	t.Run("date only resolves to local midnight", func(t *testing.T) {
		raw := RawEvent{ID: "b", Start: &RawTime{Date: "2026-10-15"}, End: &RawTime{Date: "2026-10-16"}}
		evt, ok := Normalize(raw, jst)
		require.True(t, ok)
		require.True(t, evt.AllDay)
		require.True(t, evt.Start.Equal(time.Date(2026, 10, 15, 0, 0, 0, 0, jst)))
		require.True(t, evt.End.Equal(time.Date(2026, 10, 16, 0, 0, 0, 0, jst)))
	})

	t.Run("timestamp wins over date", func(t *testing.T) {
		raw := RawEvent{
			ID:    "c",
			Start: &RawTime{DateTime: start.Format(time.RFC3339), Date: "2020-01-01"},
			End:   &RawTime{DateTime: start.Add(time.Hour).Format(time.RFC3339), Date: "2020-01-02"},
		}
		evt, ok := Normalize(raw, jst)
		require.True(t, ok)
		require.True(t, evt.Start.Equal(start))
	})

	t.Run("missing title gets placeholder", func(t *testing.T) {
		evt, ok := Normalize(timed("d", "  ", start, start.Add(time.Hour)), jst)
		require.True(t, ok)
		require.Equal(t, UntitledTitle, evt.Title)
	})

	rejects := map[string]RawEvent{
		"missing id":    timed("", "x", start, start.Add(time.Hour)),
		"missing start": {ID: "e", End: &RawTime{Date: "2026-10-16"}},
		"missing end":   {ID: "f", Start: &RawTime{Date: "2026-10-16"}},
		"empty start":   {ID: "g", Start: &RawTime{}, End: &RawTime{Date: "2026-10-16"}},
		"garbage start": {ID: "h", Start: &RawTime{DateTime: "yesterday"}, End: &RawTime{Date: "2026-10-16"}},
	}
	for name, raw := range rejects {
		t.Run(name, func(t *testing.T) {
			_, ok := Normalize(raw, jst)
			require.False(t, ok)
		})
	}
}

func TestPolicyWindow(t *testing.T) {
	policy := DefaultPolicy()
	// 2026-10-14 20:30 UTC is already 2026-10-15 05:30 in UTC+9.
	now := time.Date(2026, 10, 14, 20, 30, 0, 0, time.UTC)
	start, end := policy.Window(now)
	require.True(t, start.Equal(time.Date(2026, 10, 15, 0, 0, 0, 0, jst)))
	require.True(t, end.Equal(time.Date(2026, 10, 29, 0, 0, 0, 0, jst)))
}

func TestIsFutureMonotonic(t *testing.T) {
	end := time.Date(2026, 10, 14, 11, 0, 0, 0, jst)
	evt := event("a", "x", end.Add(-time.Hour), end)
	require.True(t, IsFuture(evt, end.Add(-time.Second)))
	require.False(t, IsFuture(evt, end))
	for _, later := range []time.Duration{time.Nanosecond, time.Minute, 48 * time.Hour} {
		require.False(t, IsFuture(evt, end.Add(later)))
	}
}

func TestParseOffset(t *testing.T) {
	cases := map[string]time.Duration{
		"+09:00":    9 * time.Hour,
		"-05:30":    -(5*time.Hour + 30*time.Minute),
		"UTC+9":     9 * time.Hour,
		"Z":         0,
		"":          0,
		"+00:45":    45 * time.Minute,
		"utc-03:00": -3 * time.Hour,
	}
	for raw, want := range cases {
		got, err := ParseOffset(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"+15:00", "nine", "+09:75", "--3"} {
		_, err := ParseOffset(raw)
		require.Error(t, err, raw)
	}
}

func TestRebuild(t *testing.T) {
	policy := DefaultPolicy()
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, jst)
	_, windowEnd := policy.Window(now)

	provider := &fakeProvider{pages: map[string]ListPage{
		"": {
			Items: []RawEvent{
				timed("ended", "Breakfast", now.Add(-2*time.Hour), now.Add(-time.Hour)),
				timed("a", "Review", now.Add(time.Hour), now.Add(2*time.Hour)),
				cancelled("gone"),
			},
			NextPageToken: "p2",
		},
		"p2": {
			Items: []RawEvent{
				timed("far", "Offsite", windowEnd, windowEnd.Add(time.Hour)),
				{ID: "broken", Start: &RawTime{Date: "2026-10-20"}},
				timed("a", "Review (moved)", now.Add(3*time.Hour), now.Add(4*time.Hour)),
				timed("running", "Workshop", now.Add(-time.Hour), now.Add(time.Hour)),
			},
			NextSyncToken: "sync-1",
		},
	}}

	snap, token, err := Rebuild(context.Background(), provider, policy, now)
	require.NoError(t, err)
	require.Equal(t, "sync-1", token)
	require.Equal(t, 2, snap.Len())

	a, ok := snap.Get("a")
	require.True(t, ok)
	require.Equal(t, "Review (moved)", a.Title, "last write wins")
	_, ok = snap.Get("running")
	require.True(t, ok)
	require.True(t, snap.UpdatedAt.Equal(now))

	require.Len(t, provider.requests, 2)
	first := provider.requests[0]
	require.True(t, first.ShowDeleted)
	require.True(t, first.SingleEvents)
	require.Equal(t, MaxPageSize, first.MaxResults)
	require.Empty(t, first.SyncToken)
	require.True(t, first.TimeMax.Equal(windowEnd))
	require.Equal(t, "p2", provider.requests[1].PageToken)
}

func TestRebuildFailures(t *testing.T) {
	policy := DefaultPolicy()
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, jst)

	t.Run("page failure aborts", func(t *testing.T) {
		boom := errors.New("boom")
		provider := &fakeProvider{
			pages: map[string]ListPage{"": {NextPageToken: "p2"}},
			errs:  map[string]error{"p2": boom},
		}
		snap, token, err := Rebuild(context.Background(), provider, policy, now)
		require.ErrorIs(t, err, boom)
		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		require.Equal(t, 2, fetchErr.Page)
		require.Nil(t, snap.Events)
		require.Empty(t, token)
	})

	t.Run("no sync token", func(t *testing.T) {
		_, _, err := Rebuild(context.Background(), singlePage(""), policy, now)
		require.ErrorIs(t, err, ErrNoSyncToken)
	})
}

func TestApplyIncrementalRequiresToken(t *testing.T) {
	provider := singlePage("next")
	_, err := ApplyIncremental(context.Background(), provider, DefaultPolicy(), NewSnapshot(time.Now()), "  ", time.Now())
	require.ErrorIs(t, err, ErrMissingSyncToken)
	require.Empty(t, provider.requests)
}

func TestApplyIncrementalDeletion(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, jst)
	prior := NewSnapshot(now.Add(-time.Hour))
	prior.Events["A"] = event("A", "X", time.Date(2026, 10, 14, 10, 0, 0, 0, jst), time.Date(2026, 10, 14, 11, 0, 0, 0, jst))

	res, err := ApplyIncremental(context.Background(), singlePage("t2", cancelled("A")), DefaultPolicy(), prior, "t1", now)
	require.NoError(t, err)
	require.Len(t, res.Deleted, 1)
	require.Equal(t, ChangeDeleted, res.Deleted[0].Kind)
	require.Equal(t, "X", res.Deleted[0].Current.Title)
	require.Empty(t, res.Updated)
	require.Empty(t, res.Created)
	require.Equal(t, 0, res.Snapshot.Len())
	require.Equal(t, "t2", res.SyncToken)

	require.Equal(t, 1, prior.Len(), "prior snapshot must stay untouched")
}

func TestApplyIncrementalDeletionOfEndedEventIsSilent(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, jst)
	prior := NewSnapshot(now)
	prior.Events["A"] = event("A", "X", now.Add(-2*time.Hour), now.Add(-time.Hour))

	res, err := ApplyIncremental(context.Background(), singlePage("t2", cancelled("A"), cancelled("unknown")), DefaultPolicy(), prior, "t1", now)
	require.NoError(t, err)
	require.True(t, res.Empty())
	require.Equal(t, 0, res.Snapshot.Len())
}

func TestApplyIncrementalUpdate(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, jst)
	start := now.Add(time.Hour)
	prior := NewSnapshot(now)
	prior.Events["A"] = event("A", "Planning", start, start.Add(time.Hour))

	feed := singlePage("t2", timed("A", "Planning", start.Add(30*time.Minute), start.Add(90*time.Minute)))
	res, err := ApplyIncremental(context.Background(), feed, DefaultPolicy(), prior, "t1", now)
	require.NoError(t, err)
	require.Len(t, res.Updated, 1)

	entry := res.Updated[0]
	require.Equal(t, ChangeUpdated, entry.Kind)
	require.NotNil(t, entry.Previous)
	require.True(t, entry.Previous.Start.Equal(start))
	require.True(t, entry.Current.Start.Equal(start.Add(30*time.Minute)))

	stored, ok := res.Snapshot.Get("A")
	require.True(t, ok)
	require.True(t, stored.Start.Equal(start.Add(30*time.Minute)))
}

func TestApplyIncrementalInsertDoesNotReportCreation(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, jst)
	feed := singlePage("t2", timed("B", "Y", now.Add(24*time.Hour), now.Add(25*time.Hour)))

	res, err := ApplyIncremental(context.Background(), feed, DefaultPolicy(), NewSnapshot(now), "t1", now)
	require.NoError(t, err)
	require.Empty(t, res.Created)
	require.True(t, res.Empty())
	stored, ok := res.Snapshot.Get("B")
	require.True(t, ok)
	require.Equal(t, "Y", stored.Title)
}

func TestApplyIncrementalRetiresEndedEvent(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, jst)
	prior := NewSnapshot(now)
	prior.Events["A"] = event("A", "Lunch", now.Add(-time.Hour), now.Add(time.Minute))

	feed := singlePage("t2", timed("A", "Lunch (short)", now.Add(-time.Hour), now.Add(-time.Minute)))
	res, err := ApplyIncremental(context.Background(), feed, DefaultPolicy(), prior, "t1", now)
	require.NoError(t, err)
	require.True(t, res.Empty())
	_, ok := res.Snapshot.Get("A")
	require.False(t, ok)
}

func TestApplyIncrementalSkipsUnnormalizable(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, jst)
	prior := NewSnapshot(now)
	prior.Events["A"] = event("A", "Keep", now.Add(time.Hour), now.Add(2*time.Hour))

	feed := singlePage("t2", RawEvent{ID: "A", Status: "confirmed", Summary: "No times"})
	res, err := ApplyIncremental(context.Background(), feed, DefaultPolicy(), prior, "t1", now)
	require.NoError(t, err)
	require.True(t, res.Empty())
	stored, _ := res.Snapshot.Get("A")
	require.Equal(t, "Keep", stored.Title)
}

func TestApplyIncrementalNoChangeRoundTrip(t *testing.T) {
	policy := DefaultPolicy()
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, jst)
	items := []RawEvent{
		timed("a", "One", now.Add(time.Hour), now.Add(2*time.Hour)),
		timed("b", "Two", now.Add(26*time.Hour), now.Add(27*time.Hour)),
	}
	snap, token, err := Rebuild(context.Background(), singlePage("t1", items...), policy, now)
	require.NoError(t, err)

	later := now.Add(time.Minute)
	res, err := ApplyIncremental(context.Background(), singlePage("t2", items...), policy, snap, token, later)
	require.NoError(t, err)
	require.True(t, res.Empty())
	require.Equal(t, snap.Events, res.Snapshot.Events)
	require.True(t, res.Snapshot.UpdatedAt.Equal(later))
}

func TestApplyIncrementalDuplicateDeliveryIsIdempotent(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, jst)
	start := now.Add(time.Hour)
	prior := NewSnapshot(now)
	prior.Events["A"] = event("A", "Old", start, start.Add(time.Hour))
	prior.Events["C"] = event("C", "Doomed", start, start.Add(time.Hour))

	feed := []RawEvent{
		timed("A", "New", start, start.Add(time.Hour)),
		cancelled("C"),
		timed("D", "Fresh", start, start.Add(time.Hour)),
	}
	first, err := ApplyIncremental(context.Background(), singlePage("t2", feed...), DefaultPolicy(), prior, "t1", now)
	require.NoError(t, err)
	second, err := ApplyIncremental(context.Background(), singlePage("t2", feed...), DefaultPolicy(), prior, "t1", now)
	require.NoError(t, err)

	require.Equal(t, first.Snapshot.Events, second.Snapshot.Events)
	require.Len(t, first.Updated, 1)
	require.Len(t, second.Updated, 1)
	require.Len(t, first.Deleted, 1)
}

func TestApplyIncrementalPaginationToken(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, jst)

	t.Run("last non-empty token wins", func(t *testing.T) {
		provider := &fakeProvider{pages: map[string]ListPage{
			"":   {NextPageToken: "p2", NextSyncToken: "mid"},
			"p2": {NextPageToken: "p3"},
			"p3": {},
		}}
		res, err := ApplyIncremental(context.Background(), provider, DefaultPolicy(), NewSnapshot(now), "t1", now)
		require.NoError(t, err)
		require.Equal(t, "mid", res.SyncToken)
		require.Len(t, provider.requests, 3)
		for _, req := range provider.requests {
			require.Equal(t, "t1", req.SyncToken)
			require.True(t, req.TimeMin.IsZero())
		}
	})

	t.Run("falls back to input token", func(t *testing.T) {
		res, err := ApplyIncremental(context.Background(), singlePage(""), DefaultPolicy(), NewSnapshot(now), "t1", now)
		require.NoError(t, err)
		require.Equal(t, "t1", res.SyncToken)
	})
}

func TestApplyIncrementalFailures(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, jst)
	prior := NewSnapshot(now)
	prior.Events["A"] = event("A", "X", now.Add(time.Hour), now.Add(2*time.Hour))

	t.Run("stale token", func(t *testing.T) {
		provider := &fakeProvider{
			pages: map[string]ListPage{"": {Items: []RawEvent{cancelled("A")}, NextPageToken: "p2"}},
			errs:  map[string]error{"p2": &StaleTokenError{Err: errors.New("410 gone")}},
		}
		res, err := ApplyIncremental(context.Background(), provider, DefaultPolicy(), prior, "t1", now)
		require.Error(t, err)
		require.True(t, IsStaleToken(err))
		require.Nil(t, res.Snapshot.Events)
		require.Equal(t, 1, prior.Len())
	})

	t.Run("transient failure", func(t *testing.T) {
		boom := errors.New("503")
		provider := &fakeProvider{errs: map[string]error{"": boom}}
		_, err := ApplyIncremental(context.Background(), provider, DefaultPolicy(), prior, "t1", now)
		require.ErrorIs(t, err, boom)
		require.False(t, IsStaleToken(err))
		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
	})
}

func TestApplyIncrementalEvictsEndedMembers(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, jst)
	prior := NewSnapshot(now.Add(-time.Hour))
	prior.Events["old"] = event("old", "Done", now.Add(-2*time.Hour), now.Add(-time.Hour))
	prior.Events["live"] = event("live", "Later", now.Add(time.Hour), now.Add(2*time.Hour))

	res, err := ApplyIncremental(context.Background(), singlePage("t2"), DefaultPolicy(), prior, "t1", now)
	require.NoError(t, err)
	require.True(t, res.Empty())
	require.Equal(t, 1, res.Snapshot.Len())
	_, ok := res.Snapshot.Get("live")
	require.True(t, ok)
}
