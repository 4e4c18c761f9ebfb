package calsync

import (
	"context"
	"strings"
	"time"
)

// ChangeKind classifies a ChangeEntry.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ChangeEntry is one classified change. Previous is set only for updates.
type ChangeEntry struct {
	Kind     ChangeKind
	Current  NormalizedEvent
	Previous *NormalizedEvent
}

// Result is the outcome of a successful incremental pass.
type Result struct {
	Snapshot  Snapshot
	Created   []ChangeEntry
	Updated   []ChangeEntry
	Deleted   []ChangeEntry
	SyncToken string
}

// Empty reports whether the pass produced nothing worth reporting.
func (r Result) Empty() bool {
	return len(r.Created) == 0 && len(r.Updated) == 0 && len(r.Deleted) == 0
}

// ApplyIncremental pages through the provider's change feed starting at
// syncToken and applies it to a copy of prior. prior is never modified; on
// any error the working copy is dropped and nothing should be persisted.
//
// Records for ids new to the snapshot are inserted without producing a
// created entry. Incremental feeds resurface known recurring instances as
// new often enough that reporting them is mostly noise.
func ApplyIncremental(ctx context.Context, provider Provider, policy Policy, prior Snapshot, syncToken string, now time.Time) (Result, error) {
	if strings.TrimSpace(syncToken) == "" {
		return Result{}, ErrMissingSyncToken
	}

	working := prior.Clone()
	if working.Events == nil {
		working.Events = make(map[string]NormalizedEvent)
	}
	res := Result{SyncToken: syncToken}
	loc := policy.location()

	var pageToken string
	for page := 1; ; page++ {
		resp, err := provider.ListEvents(ctx, ListRequest{
			SyncToken:    syncToken,
			PageToken:    pageToken,
			ShowDeleted:  true,
			SingleEvents: true,
			MaxResults:   MaxPageSize,
		})
		if err != nil {
			return Result{}, classifyFetchError(page, err)
		}
		for _, item := range resp.Items {
			applyRecord(&working, &res, item, loc, now)
		}
		if resp.NextSyncToken != "" {
			res.SyncToken = resp.NextSyncToken
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	working.evictEnded(now)
	working.UpdatedAt = now
	res.Snapshot = working
	return res, nil
}

func applyRecord(working *Snapshot, res *Result, item RawEvent, loc *time.Location, now time.Time) {
	id := strings.TrimSpace(item.ID)

	if item.Cancelled() {
		previous, known := working.Events[id]
		if known && IsFuture(previous, now) {
			res.Deleted = append(res.Deleted, ChangeEntry{Kind: ChangeDeleted, Current: previous})
		}
		delete(working.Events, id)
		return
	}

	evt, ok := Normalize(item, loc)
	if !ok {
		return
	}
	if !IsFuture(evt, now) {
		// Ended events retire silently.
		delete(working.Events, evt.ID)
		return
	}

	previous, known := working.Events[evt.ID]
	switch {
	case !known:
		working.Events[evt.ID] = evt
	case !previous.SameAs(evt):
		prev := previous
		res.Updated = append(res.Updated, ChangeEntry{Kind: ChangeUpdated, Current: evt, Previous: &prev})
		working.Events[evt.ID] = evt
	}
}
