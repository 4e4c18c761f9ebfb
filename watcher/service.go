// Package watcher wires the sync engine, the watch channel and the
// notification sink into the three entry points the service exposes:
// initialize, push received and periodic tick.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"calendar-watcher/calsync"
	"calendar-watcher/notify"
	"calendar-watcher/report"
	"calendar-watcher/streams"
	"calendar-watcher/watch"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Triggers recorded with each run.
const (
	TriggerInit = "init"
	TriggerPush = "push"
	TriggerTick = "tick"
)

const (
	defaultSyncTimeout = 2 * time.Minute
	defaultDedupeSize  = 1024
	defaultDedupeTTL   = 10 * time.Minute
)

// StateStore persists the snapshot and its sync token as one pair.
type StateStore interface {
	LoadState(ctx context.Context) (calsync.Snapshot, string, error)
	SaveState(ctx context.Context, snap calsync.Snapshot, token string) error
}

// RunLog records sync outcomes.
type RunLog interface {
	Record(ctx context.Context, calendarID string, run streams.Run) (string, error)
	Recent(ctx context.Context, calendarID string, count int64) ([]streams.Run, error)
}

// Config tunes the Service.
type Config struct {
	CalendarID  string
	Policy      calsync.Policy
	MaxChunk    int
	SyncTimeout time.Duration
	DedupeSize  int
	DedupeTTL   time.Duration
}

// Service runs sync passes for one calendar.
type Service struct {
	cfg      Config
	provider calsync.Provider
	channels *watch.Manager
	state    StateStore
	sink     notify.Sink
	runs     RunLog
	l        *zap.SugaredLogger
	now      func() time.Time

	seenMu sync.Mutex
	seen   *expirable.LRU[string, struct{}]
	wg     sync.WaitGroup
}

// New builds a Service. runs may be nil.
func New(cfg Config, provider calsync.Provider, channels *watch.Manager, state StateStore, sink notify.Sink, runs RunLog, l *zap.SugaredLogger) *Service {
	if cfg.Policy.Location == nil {
		cfg.Policy = calsync.DefaultPolicy()
	}
	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = report.DefaultMaxChunk
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaultSyncTimeout
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = defaultDedupeSize
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = defaultDedupeTTL
	}
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return &Service{
		cfg:      cfg,
		provider: provider,
		channels: channels,
		state:    state,
		sink:     sink,
		runs:     runs,
		l:        l,
		now:      time.Now,
		seen:     expirable.NewLRU[string, struct{}](cfg.DedupeSize, nil, cfg.DedupeTTL),
	}
}

// InitResult describes the state after Initialize.
type InitResult struct {
	Channel watch.Channel
	Events  int
}

// Initialize makes sure a channel is registered and seeds the snapshot with a
// full rebuild. Nothing is reported to the sink: there is no baseline yet.
func (s *Service) Initialize(ctx context.Context) (InitResult, error) {
	ch, err := s.channels.Ensure(ctx, s.now())
	if err != nil {
		return InitResult{}, fmt.Errorf("ensure channel: %w", err)
	}
	started := s.now()
	snap, token, err := calsync.Rebuild(ctx, s.provider, s.cfg.Policy, started)
	if err != nil {
		s.record(ctx, TriggerInit, streams.Run{Outcome: streams.OutcomeFailed, Error: err.Error()}, started)
		return InitResult{Channel: ch}, fmt.Errorf("rebuild: %w", err)
	}
	if err := s.state.SaveState(ctx, snap, token); err != nil {
		s.record(ctx, TriggerInit, streams.Run{Outcome: streams.OutcomeFailed, Error: err.Error()}, started)
		return InitResult{Channel: ch}, fmt.Errorf("save state: %w", err)
	}
	s.record(ctx, TriggerInit, streams.Run{Outcome: streams.OutcomeRebuilt, Events: snap.Len()}, started)
	s.l.Infof("watcher: initialized calendar %s with %d events", s.cfg.CalendarID, snap.Len())
	return InitResult{Channel: ch, Events: snap.Len()}, nil
}

// Tick renews the channel when it is close to expiry. It never syncs.
func (s *Service) Tick(ctx context.Context) (watch.Channel, error) {
	ch, err := s.channels.Ensure(ctx, s.now())
	if err != nil {
		s.l.Errorf("watcher: channel renewal failed: %v", err)
		return watch.Channel{}, err
	}
	return ch, nil
}

// PushOutcome reports what HandlePush decided.
type PushOutcome struct {
	Verdict   watch.Verdict
	Duplicate bool
	Started   bool
}

// HandlePush validates a push and, for a genuine change, starts a detached
// sync bounded by SyncTimeout. It returns as soon as the decision is made so
// the caller can acknowledge the provider.
func (s *Service) HandlePush(ctx context.Context, h watch.PushHeaders) (PushOutcome, error) {
	verdict, err := s.channels.ValidateInbound(ctx, h, s.now())
	if err != nil {
		return PushOutcome{Verdict: verdict}, err
	}
	out := PushOutcome{Verdict: verdict}
	switch verdict {
	case watch.VerdictMismatch:
		s.l.Debugf("watcher: ignoring push for channel=%s resource=%s", h.ChannelID, h.ResourceID)
		return out, nil
	case watch.VerdictSyncAck:
		s.l.Infof("watcher: channel %s handshake received", h.ChannelID)
		return out, nil
	}

	if s.duplicate(h) {
		s.l.Debugf("watcher: dropping duplicate push %s/%s", h.ChannelID, h.MessageNumber)
		out.Duplicate = true
		return out, nil
	}

	s.wg.Add(1)
	go s.detachedSync(TriggerPush)
	out.Started = true
	return out, nil
}

func (s *Service) duplicate(h watch.PushHeaders) bool {
	if h.MessageNumber == "" {
		return false
	}
	key := h.ChannelID + ":" + h.MessageNumber
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	if s.seen.Contains(key) {
		return true
	}
	s.seen.Add(key, struct{}{})
	return false
}

func (s *Service) detachedSync(trigger string) {
	defer s.wg.Done()
	started := s.now()
	defer func() {
		if r := recover(); r != nil {
			// the sync context may already be spent
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SyncTimeout)
			defer cancel()
			s.fail(ctx, trigger, started, fmt.Errorf("sync panicked: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SyncTimeout)
	defer cancel()
	if _, err := s.Sync(ctx, trigger); err != nil {
		s.l.Errorf("watcher: %s sync failed: %v", trigger, err)
	}
}

// Wait blocks until every detached sync has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}
