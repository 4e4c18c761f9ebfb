package watch

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Header names set by the provider on every push.
const (
	HeaderChannelID     = "X-Goog-Channel-ID"
	HeaderResourceID    = "X-Goog-Resource-ID"
	HeaderResourceState = "X-Goog-Resource-State"
	HeaderMessageNumber = "X-Goog-Message-Number"
	HeaderChannelToken  = "X-Goog-Channel-Token"
)

// StateSync is the handshake state sent right after a channel opens.
const StateSync = "sync"

// PushHeaders is the subset of push metadata the manager cares about.
type PushHeaders struct {
	ChannelID     string
	ResourceID    string
	ResourceState string
	MessageNumber string
	Token         string
}

// HeadersFromRequest extracts push metadata from an inbound request.
func HeadersFromRequest(r *http.Request) PushHeaders {
	return PushHeaders{
		ChannelID:     strings.TrimSpace(r.Header.Get(HeaderChannelID)),
		ResourceID:    strings.TrimSpace(r.Header.Get(HeaderResourceID)),
		ResourceState: strings.TrimSpace(r.Header.Get(HeaderResourceState)),
		MessageNumber: strings.TrimSpace(r.Header.Get(HeaderMessageNumber)),
		Token:         r.Header.Get(HeaderChannelToken),
	}
}

// Verdict is the outcome of validating a push.
type Verdict int

const (
	// VerdictMismatch means the push does not belong to the active channel.
	VerdictMismatch Verdict = iota
	// VerdictSyncAck is the channel handshake; nothing to do.
	VerdictSyncAck
	// VerdictChange means the calendar changed and a sync should run.
	VerdictChange
)

func (v Verdict) String() string {
	switch v {
	case VerdictSyncAck:
		return "sync"
	case VerdictChange:
		return "change"
	default:
		return "mismatch"
	}
}

// ValidateInbound classifies a push against the persisted channel. Pushes
// for unknown, replaced or expired channels are mismatches, as are pushes
// carrying the wrong channel token when one is configured.
func (m *Manager) ValidateInbound(ctx context.Context, h PushHeaders, now time.Time) (Verdict, error) {
	if h.ChannelID == "" || h.ResourceID == "" {
		return VerdictMismatch, nil
	}
	current, err := m.store.LoadChannel(ctx)
	if errors.Is(err, ErrNoChannel) {
		return VerdictMismatch, nil
	}
	if err != nil {
		return VerdictMismatch, fmt.Errorf("load channel: %w", err)
	}

	if current.ChannelID != h.ChannelID || current.ResourceID != h.ResourceID {
		return VerdictMismatch, nil
	}
	if current.Expired(now) {
		return VerdictMismatch, nil
	}
	if m.cfg.Token != "" && subtle.ConstantTimeCompare([]byte(m.cfg.Token), []byte(h.Token)) != 1 {
		return VerdictMismatch, nil
	}
	if h.ResourceState == StateSync {
		return VerdictSyncAck, nil
	}
	return VerdictChange, nil
}
