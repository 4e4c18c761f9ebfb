package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the fixed parameters of the managed channel.
type Config struct {
	CalendarID   string
	Address      string
	Token        string
	SafetyMargin time.Duration
}

// Manager keeps exactly one live channel registered with the provider.
type Manager struct {
	cfg        Config
	subscriber Subscriber
	store      ChannelStore
	l          *zap.SugaredLogger
	newID      func() string
}

// NewManager builds a Manager. A zero SafetyMargin uses DefaultSafetyMargin.
func NewManager(cfg Config, subscriber Subscriber, store ChannelStore, l *zap.SugaredLogger) *Manager {
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &Manager{
		cfg:        cfg,
		subscriber: subscriber,
		store:      store,
		l:          l,
		newID:      func() string { return uuid.New().String() },
	}
}

// Ensure returns the persisted channel when it is still comfortably alive,
// otherwise opens a replacement, persists it and returns it. The replaced
// channel is stopped on a best-effort basis.
func (m *Manager) Ensure(ctx context.Context, now time.Time) (Channel, error) {
	if strings.TrimSpace(m.cfg.Address) == "" {
		return Channel{}, fmt.Errorf("watch: callback address is not configured")
	}

	current, err := m.store.LoadChannel(ctx)
	hasCurrent := err == nil
	if err != nil && !errors.Is(err, ErrNoChannel) {
		return Channel{}, fmt.Errorf("load channel: %w", err)
	}
	if hasCurrent && !current.Renewable(now, m.cfg.SafetyMargin) {
		return current, nil
	}

	channelID := m.newID()
	sub, err := m.subscriber.Subscribe(ctx, SubscribeRequest{
		CalendarID: m.cfg.CalendarID,
		ChannelID:  channelID,
		Address:    m.cfg.Address,
		Token:      m.cfg.Token,
	})
	if err != nil {
		return Channel{}, fmt.Errorf("subscribe channel %s: %w", channelID, err)
	}

	next := Channel{
		ChannelID:  channelID,
		ResourceID: sub.ResourceID,
		CalendarID: m.cfg.CalendarID,
		Address:    m.cfg.Address,
		Expiration: sub.Expiration,
		CreatedAt:  now,
	}
	if err := m.store.SaveChannel(ctx, next); err != nil {
		return Channel{}, fmt.Errorf("save channel %s: %w", channelID, err)
	}
	m.l.Infof("watch: registered channel %s resource=%s expires=%s", next.ChannelID, next.ResourceID, formatExpiration(next.Expiration))

	if hasCurrent && current.ChannelID != "" && current.ResourceID != "" {
		if err := m.subscriber.Stop(ctx, current.ChannelID, current.ResourceID); err != nil {
			m.l.Warnf("watch: failed to stop replaced channel %s: %v", current.ChannelID, err)
		}
	}
	return next, nil
}

// Current returns the persisted channel without touching the provider.
func (m *Manager) Current(ctx context.Context) (Channel, error) {
	return m.store.LoadChannel(ctx)
}

func formatExpiration(t *time.Time) string {
	if t == nil {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}
