// Package gcal adapts the Google Calendar v3 API to the provider interfaces
// used by calsync and watch.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"calendar-watcher/calsync"
	"calendar-watcher/watch"

	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultCalendarID is the authenticated user's primary calendar.
const DefaultCalendarID = "primary"

const channelType = "web_hook"

// Client lists events and manages push channels for a single calendar.
type Client struct {
	svc        *calendar.Service
	calendarID string
}

// NewService builds an authenticated Calendar service on top of httpClient.
func NewService(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*calendar.Service, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return svc, nil
}

// New wraps svc for calendarID. An empty id selects the primary calendar.
func New(svc *calendar.Service, calendarID string) *Client {
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}
	return &Client{svc: svc, calendarID: calendarID}
}

// CalendarID returns the calendar this client is bound to.
func (c *Client) CalendarID() string {
	return c.calendarID
}

// ListEvents fetches one page of events. A 410 from the API is reported as
// *calsync.StaleTokenError.
func (c *Client) ListEvents(ctx context.Context, req calsync.ListRequest) (calsync.ListPage, error) {
	call := c.svc.Events.List(c.calendarID).
		ShowDeleted(req.ShowDeleted).
		SingleEvents(req.SingleEvents)

	if req.MaxResults > 0 {
		call = call.MaxResults(req.MaxResults)
	}
	if req.SyncToken != "" {
		call = call.SyncToken(req.SyncToken)
	} else {
		if !req.TimeMin.IsZero() {
			call = call.TimeMin(req.TimeMin.Format(time.RFC3339))
		}
		if !req.TimeMax.IsZero() {
			call = call.TimeMax(req.TimeMax.Format(time.RFC3339))
		}
	}
	if req.PageToken != "" {
		call = call.PageToken(req.PageToken)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		if isGone(err) {
			return calsync.ListPage{}, &calsync.StaleTokenError{Err: err}
		}
		return calsync.ListPage{}, fmt.Errorf("failed to list events: %w", err)
	}

	page := calsync.ListPage{
		Items:         make([]calsync.RawEvent, 0, len(resp.Items)),
		NextPageToken: resp.NextPageToken,
		NextSyncToken: resp.NextSyncToken,
	}
	for _, item := range resp.Items {
		if item == nil {
			continue
		}
		page.Items = append(page.Items, toRawEvent(item))
	}
	return page, nil
}

// Subscribe opens a push channel on the events collection.
func (c *Client) Subscribe(ctx context.Context, req watch.SubscribeRequest) (watch.Subscription, error) {
	calendarID := req.CalendarID
	if calendarID == "" {
		calendarID = c.calendarID
	}
	channel := &calendar.Channel{
		Id:      req.ChannelID,
		Type:    channelType,
		Address: req.Address,
		Token:   req.Token,
	}

	resp, err := c.svc.Events.Watch(calendarID, channel).Context(ctx).Do()
	if err != nil {
		return watch.Subscription{}, fmt.Errorf("failed to register webhook with Google Calendar API: %w", err)
	}

	sub := watch.Subscription{ResourceID: resp.ResourceId}
	if resp.Expiration > 0 {
		exp := time.UnixMilli(resp.Expiration).UTC()
		sub.Expiration = &exp
	}
	return sub, nil
}

// Stop closes a push channel. Channels the API no longer knows are treated
// as already stopped.
func (c *Client) Stop(ctx context.Context, channelID, resourceID string) error {
	channel := &calendar.Channel{
		Id:         channelID,
		ResourceId: resourceID,
	}
	if err := c.svc.Channels.Stop(channel).Context(ctx).Do(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to stop webhook channel %s: %w", channelID, err)
	}
	return nil
}

func isGone(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusGone
}

func toRawEvent(e *calendar.Event) calsync.RawEvent {
	return calsync.RawEvent{
		ID:      e.Id,
		Status:  e.Status,
		Summary: e.Summary,
		Start:   toRawTime(e.Start),
		End:     toRawTime(e.End),
	}
}

func toRawTime(dt *calendar.EventDateTime) *calsync.RawTime {
	if dt == nil {
		return nil
	}
	return &calsync.RawTime{DateTime: dt.DateTime, Date: dt.Date}
}
