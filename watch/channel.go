// Package watch manages the push notification channel that keeps the
// incremental sync fed, and decides whether inbound pushes belong to it.
package watch

import (
	"context"
	"errors"
	"time"
)

// DefaultSafetyMargin is how close to expiry a channel may get before it is replaced.
const DefaultSafetyMargin = 5 * time.Minute

// ErrNoChannel is returned by a ChannelStore when nothing has been persisted yet.
var ErrNoChannel = errors.New("watch: no channel registered")

// Channel is the persisted push subscription.
type Channel struct {
	ChannelID  string     `json:"channel_id"`
	ResourceID string     `json:"resource_id"`
	CalendarID string     `json:"calendar_id,omitempty"`
	Address    string     `json:"address,omitempty"`
	Expiration *time.Time `json:"expiration,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Renewable reports whether the channel should be replaced at now. A channel
// without a known expiration is always renewable.
func (c Channel) Renewable(now time.Time, margin time.Duration) bool {
	if c.Expiration == nil {
		return true
	}
	return c.Expiration.Sub(now) <= margin
}

// Expired reports whether the channel's expiration has passed.
func (c Channel) Expired(now time.Time) bool {
	return c.Expiration != nil && !c.Expiration.After(now)
}

// SubscribeRequest describes a new channel to open with the provider.
type SubscribeRequest struct {
	CalendarID string
	ChannelID  string
	Address    string
	Token      string
}

// Subscription is what the provider returns for an opened channel.
type Subscription struct {
	ResourceID string
	Expiration *time.Time
}

// Subscriber opens and closes provider push channels.
type Subscriber interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (Subscription, error)
	Stop(ctx context.Context, channelID, resourceID string) error
}

// ChannelStore persists the single active channel.
type ChannelStore interface {
	LoadChannel(ctx context.Context) (Channel, error)
	SaveChannel(ctx context.Context, ch Channel) error
}
