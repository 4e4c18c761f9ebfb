package calsync

import (
	"context"
	"time"
)

// Rebuild fetches every page of the provider's listing for the policy
// window and returns a fresh snapshot with the sync token issued on the last
// page. It has no side effects. Any page failure aborts the whole rebuild.
func Rebuild(ctx context.Context, provider Provider, policy Policy, now time.Time) (Snapshot, string, error) {
	windowStart, windowEnd := policy.Window(now)

	var (
		raw       []RawEvent
		pageToken string
		syncToken string
	)
	for page := 1; ; page++ {
		resp, err := provider.ListEvents(ctx, ListRequest{
			PageToken:    pageToken,
			TimeMin:      windowStart,
			TimeMax:      windowEnd,
			ShowDeleted:  true,
			SingleEvents: true,
			MaxResults:   MaxPageSize,
		})
		if err != nil {
			return Snapshot{}, "", classifyFetchError(page, err)
		}
		raw = append(raw, resp.Items...)
		if resp.NextPageToken == "" {
			syncToken = resp.NextSyncToken
			break
		}
		pageToken = resp.NextPageToken
	}
	if syncToken == "" {
		return Snapshot{}, "", ErrNoSyncToken
	}

	snap := NewSnapshot(now)
	for _, item := range raw {
		if item.Cancelled() {
			continue
		}
		evt, ok := Normalize(item, policy.location())
		if !ok || !IsFuture(evt, now) {
			continue
		}
		if !evt.Start.Before(windowEnd) {
			continue
		}
		snap.Events[evt.ID] = evt
	}
	return snap, syncToken, nil
}
