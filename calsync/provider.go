package calsync

import (
	"context"
	"time"
)

// MaxPageSize is the largest page the Calendar API hands out.
const MaxPageSize int64 = 2500

// ListRequest describes one page request against the provider's event list.
// SyncToken and the time range are mutually exclusive.
type ListRequest struct {
	SyncToken    string
	PageToken    string
	TimeMin      time.Time
	TimeMax      time.Time
	ShowDeleted  bool
	SingleEvents bool
	MaxResults   int64
}

// ListPage is one page of results.
type ListPage struct {
	Items         []RawEvent
	NextPageToken string
	NextSyncToken string
}

// Provider lists calendar events. Implementations report an invalidated
// sync token as *StaleTokenError.
type Provider interface {
	ListEvents(ctx context.Context, req ListRequest) (ListPage, error)
}
