package main

import (
	"context"
	"fmt"
	"time"

	"calendar-watcher/watch"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type channelTicker interface {
	Tick(ctx context.Context) (watch.Channel, error)
}

// ChannelRenewer fires the periodic tick on a cron schedule.
type ChannelRenewer struct {
	cron    *cron.Cron
	svc     channelTicker
	timeout time.Duration
	l       *zap.SugaredLogger
}

func NewChannelRenewer(schedule string, svc channelTicker, timeout time.Duration, l *zap.SugaredLogger) (*ChannelRenewer, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	r := &ChannelRenewer{
		cron:    cron.New(),
		svc:     svc,
		timeout: timeout,
		l:       l,
	}
	if _, err := r.cron.AddFunc(schedule, r.renew); err != nil {
		return nil, fmt.Errorf("invalid renew schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *ChannelRenewer) Start() {
	r.l.Infof("Calendar channel renewal scheduled (%d entries)", len(r.cron.Entries()))
	r.cron.Start()
}

// Stop halts the schedule and waits for a running renewal to finish.
func (r *ChannelRenewer) Stop() {
	<-r.cron.Stop().Done()
}

func (r *ChannelRenewer) renew() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	ch, err := r.svc.Tick(ctx)
	if err != nil {
		r.l.Warnf("Renewal: tick failed: %v", err)
		return
	}
	r.l.Debugf("Renewal: channel %s active until %v", ch.ChannelID, ch.Expiration)
}
