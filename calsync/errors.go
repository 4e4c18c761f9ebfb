package calsync

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSyncToken means there is no baseline to diff from.
	ErrMissingSyncToken = errors.New("calsync: missing sync token")
	// ErrNoSyncToken means the provider finished a listing without issuing a token.
	ErrNoSyncToken = errors.New("calsync: provider returned no sync token")
)

// StaleTokenError is returned when the provider no longer accepts the sync
// token (HTTP 410 Gone for Google Calendar). The caller must rebuild.
type StaleTokenError struct {
	Err error
}

func (e *StaleTokenError) Error() string {
	if e.Err == nil {
		return "calsync: sync token is no longer valid"
	}
	return fmt.Sprintf("calsync: sync token is no longer valid: %v", e.Err)
}

func (e *StaleTokenError) Unwrap() error { return e.Err }

// FetchError wraps any other failure to fetch a page.
type FetchError struct {
	Page int
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("calsync: fetch page %d: %v", e.Page, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsStaleToken reports whether err carries a *StaleTokenError.
func IsStaleToken(err error) bool {
	var stale *StaleTokenError
	return errors.As(err, &stale)
}

// classifyFetchError keeps stale-token failures distinguishable and wraps
// everything else as a FetchError.
func classifyFetchError(page int, err error) error {
	var stale *StaleTokenError
	if errors.As(err, &stale) {
		return stale
	}
	return &FetchError{Page: page, Err: err}
}
