// Package streams records the outcome of every sync pass in a capped Redis stream.
package streams

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultMaxLen caps each run log.
const DefaultMaxLen = 500

// Outcome values recorded in a Run.
const (
	OutcomeIncremental = "incremental"
	OutcomeRebuilt     = "rebuilt"
	OutcomeFailed      = "failed"
)

// Run is one recorded sync pass.
type Run struct {
	ID       string        `json:"id"`
	Trigger  string        `json:"trigger"`
	Outcome  string        `json:"outcome"`
	Created  int           `json:"created"`
	Updated  int           `json:"updated"`
	Deleted  int           `json:"deleted"`
	Events   int           `json:"events"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

// RunLog appends runs to the stream `sync_runs:<calendarId>`.
type RunLog struct {
	client *redis.Client
	maxLen int64
}

// NewRunLog creates a run log. maxLen <= 0 uses DefaultMaxLen.
func NewRunLog(client *redis.Client, maxLen int64) *RunLog {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &RunLog{client: client, maxLen: maxLen}
}

// StreamKey names the run log of calendarID.
func StreamKey(calendarID string) string {
	return "sync_runs:" + calendarID
}

// Record appends run and trims the stream to its cap.
func (rl *RunLog) Record(ctx context.Context, calendarID string, run Run) (string, error) {
	if run.At.IsZero() {
		run.At = time.Now()
	}
	id, err := rl.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(calendarID),
		MaxLen: rl.maxLen,
		Values: map[string]any{
			"trigger":     run.Trigger,
			"outcome":     run.Outcome,
			"created":     run.Created,
			"updated":     run.Updated,
			"deleted":     run.Deleted,
			"events":      run.Events,
			"duration_ms": run.Duration.Milliseconds(),
			"error":       run.Error,
			"at":          run.At.UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis: XADD failed: %w", err)
	}
	return id, nil
}

// Recent returns up to count runs, newest first.
func (rl *RunLog) Recent(ctx context.Context, calendarID string, count int64) ([]Run, error) {
	msgs, err := rl.client.XRevRangeN(ctx, StreamKey(calendarID), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: XREVRANGE failed: %w", err)
	}
	runs := make([]Run, 0, len(msgs))
	for _, msg := range msgs {
		runs = append(runs, decodeRun(msg))
	}
	return runs, nil
}

func decodeRun(msg redis.XMessage) Run {
	run := Run{
		ID:      msg.ID,
		Trigger: stringField(msg.Values, "trigger"),
		Outcome: stringField(msg.Values, "outcome"),
		Error:   stringField(msg.Values, "error"),
		Created: intField(msg.Values, "created"),
		Updated: intField(msg.Values, "updated"),
		Deleted: intField(msg.Values, "deleted"),
		Events:  intField(msg.Values, "events"),
	}
	run.Duration = time.Duration(intField(msg.Values, "duration_ms")) * time.Millisecond
	if at, err := time.Parse(time.RFC3339Nano, stringField(msg.Values, "at")); err == nil {
		run.At = at
	}
	return run
}

func stringField(values map[string]interface{}, key string) string {
	v, _ := values[key].(string)
	return v
}

func intField(values map[string]interface{}, key string) int {
	n, _ := strconv.Atoi(stringField(values, key))
	return n
}
