package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calendar-watcher/calsync"
	"calendar-watcher/notify"
	"calendar-watcher/report"
	"calendar-watcher/store"
	"calendar-watcher/streams"
	"calendar-watcher/watch"
)

// SyncResult summarizes one Sync call.
type SyncResult struct {
	Outcome   string
	Created   int
	Updated   int
	Deleted   int
	Events    int
	Chunks    int
	NotifyErr error

	// FallbackCause is the incremental failure that forced a rebuild.
	FallbackCause error
}

// Sync applies the incremental feed to the persisted snapshot, persists the
// new pair and reports any changes. Any incremental failure, including a
// missing or stale token, falls back to exactly one full rebuild, which is
// persisted without a report. When the rebuild fails too, an error report
// goes to the sink and the error is returned.
func (s *Service) Sync(ctx context.Context, trigger string) (SyncResult, error) {
	started := s.now()

	prior, token, err := s.state.LoadState(ctx)
	if err != nil && !errors.Is(err, store.ErrNoState) {
		return s.fail(ctx, trigger, started, fmt.Errorf("load state: %w", err))
	}
	if errors.Is(err, store.ErrNoState) {
		token = ""
	}

	res, err := calsync.ApplyIncremental(ctx, s.provider, s.cfg.Policy, prior, token, started)
	if err != nil {
		return s.fallback(ctx, trigger, started, err)
	}

	if err := s.state.SaveState(ctx, res.Snapshot, res.SyncToken); err != nil {
		return s.fail(ctx, trigger, started, fmt.Errorf("save state: %w", err))
	}

	out := SyncResult{
		Outcome: streams.OutcomeIncremental,
		Created: len(res.Created),
		Updated: len(res.Updated),
		Deleted: len(res.Deleted),
		Events:  res.Snapshot.Len(),
	}

	rep := report.FromResult(res, s.cfg.Policy.Location)
	if !rep.Empty() {
		out.Chunks, out.NotifyErr = notify.Deliver(ctx, s.sink, report.ChangeTitle, rep.Chunks(s.cfg.MaxChunk))
		if out.NotifyErr != nil {
			s.l.Warnf("watcher: change report delivery incomplete: %v", out.NotifyErr)
		}
	}

	run := streams.Run{
		Outcome: out.Outcome,
		Created: out.Created,
		Updated: out.Updated,
		Deleted: out.Deleted,
		Events:  out.Events,
	}
	if out.NotifyErr != nil {
		run.Error = out.NotifyErr.Error()
	}
	s.record(ctx, trigger, run, started)
	s.l.Infof("watcher: %s sync applied updated=%d deleted=%d events=%d", trigger, out.Updated, out.Deleted, out.Events)
	return out, nil
}

func (s *Service) fallback(ctx context.Context, trigger string, started time.Time, cause error) (SyncResult, error) {
	switch {
	case errors.Is(cause, calsync.ErrMissingSyncToken):
		s.l.Infof("watcher: no sync token for %s, rebuilding", s.cfg.CalendarID)
	case calsync.IsStaleToken(cause):
		s.l.Warnf("watcher: sync token for %s is stale, rebuilding", s.cfg.CalendarID)
	default:
		s.l.Warnf("watcher: incremental sync failed, rebuilding: %v", cause)
	}

	snap, token, err := calsync.Rebuild(ctx, s.provider, s.cfg.Policy, started)
	if err != nil {
		return s.fail(ctx, trigger, started, fmt.Errorf("rebuild after %v: %w", cause, err))
	}
	if err := s.state.SaveState(ctx, snap, token); err != nil {
		return s.fail(ctx, trigger, started, fmt.Errorf("save rebuilt state: %w", err))
	}

	s.record(ctx, trigger, streams.Run{Outcome: streams.OutcomeRebuilt, Events: snap.Len()}, started)
	s.l.Infof("watcher: rebuilt snapshot for %s with %d events", s.cfg.CalendarID, snap.Len())
	return SyncResult{Outcome: streams.OutcomeRebuilt, Events: snap.Len(), FallbackCause: cause}, nil
}

func (s *Service) fail(ctx context.Context, trigger string, started time.Time, err error) (SyncResult, error) {
	s.l.Errorf("watcher: sync of %s failed: %v", s.cfg.CalendarID, err)

	body := report.ErrorReport(s.cfg.CalendarID, err, started, s.cfg.Policy.Location)
	if _, sendErr := notify.Deliver(ctx, s.sink, report.ErrorTitle, report.Chunk([]string{body}, s.cfg.MaxChunk)); sendErr != nil {
		s.l.Errorf("watcher: error report delivery failed: %v", sendErr)
	}
	s.record(ctx, trigger, streams.Run{Outcome: streams.OutcomeFailed, Error: err.Error()}, started)
	return SyncResult{Outcome: streams.OutcomeFailed}, err
}

func (s *Service) record(ctx context.Context, trigger string, run streams.Run, started time.Time) {
	if s.runs == nil {
		return
	}
	run.Trigger = trigger
	run.At = started
	run.Duration = s.now().Sub(started)
	if _, err := s.runs.Record(ctx, s.cfg.CalendarID, run); err != nil {
		s.l.Warnf("watcher: failed to record run: %v", err)
	}
}

// Status is a read-only view of the service state.
type Status struct {
	CalendarID string                    `json:"calendar_id"`
	Channel    *watch.Channel            `json:"channel,omitempty"`
	Events     int                       `json:"events"`
	HasToken   bool                      `json:"has_sync_token"`
	UpdatedAt  *time.Time                `json:"updated_at,omitempty"`
	Upcoming   []calsync.NormalizedEvent `json:"upcoming,omitempty"`
	Runs       []streams.Run             `json:"runs,omitempty"`
}

const statusUpcoming = 10

// Status reports the channel, snapshot and recent runs.
func (s *Service) Status(ctx context.Context) (Status, error) {
	st := Status{CalendarID: s.cfg.CalendarID}

	ch, err := s.channels.Current(ctx)
	switch {
	case err == nil:
		st.Channel = &ch
	case !errors.Is(err, watch.ErrNoChannel):
		return Status{}, fmt.Errorf("load channel: %w", err)
	}

	snap, token, err := s.state.LoadState(ctx)
	switch {
	case err == nil:
		st.Events = snap.Len()
		st.HasToken = token != ""
		updated := snap.UpdatedAt
		st.UpdatedAt = &updated
		upcoming := snap.Sorted()
		if len(upcoming) > statusUpcoming {
			upcoming = upcoming[:statusUpcoming]
		}
		st.Upcoming = upcoming
	case !errors.Is(err, store.ErrNoState):
		return Status{}, fmt.Errorf("load state: %w", err)
	}

	if s.runs != nil {
		runs, err := s.runs.Recent(ctx, s.cfg.CalendarID, 10)
		if err != nil {
			s.l.Warnf("watcher: failed to read run log: %v", err)
		} else {
			st.Runs = runs
		}
	}
	return st, nil
}
