// Package store persists the watch channel and the snapshot/token pair in Redis.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"calendar-watcher/calsync"
	"calendar-watcher/watch"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisURL is used when no URL is configured.
const DefaultRedisURL = "redis://localhost:6379"

const channelKey = "channel"

// ErrNoState means no snapshot/token pair has been persisted for the calendar.
var ErrNoState = errors.New("store: no sync state")

// Connect parses url, dials Redis and verifies the connection with PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		url = DefaultRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid url %q: %w", url, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	return client, nil
}

// Store reads and writes the state of one calendar.
type Store struct {
	client     *redis.Client
	calendarID string
}

// New binds a Store to calendarID.
func New(client *redis.Client, calendarID string) *Store {
	return &Store{client: client, calendarID: calendarID}
}

// SnapshotKey is where the serialized snapshot lives.
func SnapshotKey(calendarID string) string {
	return "snapshot:" + calendarID
}

// SyncTokenKey is where the raw sync token lives.
func SyncTokenKey(calendarID string) string {
	return "sync:" + calendarID
}

// LoadChannel returns the persisted channel or watch.ErrNoChannel.
func (s *Store) LoadChannel(ctx context.Context) (watch.Channel, error) {
	data, err := s.client.Get(ctx, channelKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return watch.Channel{}, watch.ErrNoChannel
	}
	if err != nil {
		return watch.Channel{}, fmt.Errorf("failed to read channel: %w", err)
	}
	var ch watch.Channel
	if err := json.Unmarshal(data, &ch); err != nil {
		return watch.Channel{}, fmt.Errorf("failed to unmarshal channel: %w", err)
	}
	return ch, nil
}

// SaveChannel replaces the persisted channel.
func (s *Store) SaveChannel(ctx context.Context, ch watch.Channel) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("failed to marshal channel: %w", err)
	}
	if err := s.client.Set(ctx, channelKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store channel: %w", err)
	}
	return nil
}

// LoadState returns the persisted snapshot and sync token. ErrNoState is
// returned when either half is missing.
func (s *Store) LoadState(ctx context.Context) (calsync.Snapshot, string, error) {
	values, err := s.client.MGet(ctx, SnapshotKey(s.calendarID), SyncTokenKey(s.calendarID)).Result()
	if err != nil {
		return calsync.Snapshot{}, "", fmt.Errorf("failed to read sync state: %w", err)
	}
	rawSnapshot, okSnapshot := values[0].(string)
	token, okToken := values[1].(string)
	if !okSnapshot || !okToken || token == "" {
		return calsync.Snapshot{}, "", ErrNoState
	}

	var snap calsync.Snapshot
	if err := json.Unmarshal([]byte(rawSnapshot), &snap); err != nil {
		return calsync.Snapshot{}, "", fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snap.Events == nil {
		snap.Events = make(map[string]calsync.NormalizedEvent)
	}
	return snap, token, nil
}

// SaveState writes the snapshot and the token it was issued with in a single
// MULTI/EXEC so readers never observe one without the other.
func (s *Store) SaveState(ctx context.Context, snap calsync.Snapshot, token string) error {
	if token == "" {
		return calsync.ErrMissingSyncToken
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, SnapshotKey(s.calendarID), data, 0)
		pipe.Set(ctx, SyncTokenKey(s.calendarID), token, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store sync state: %w", err)
	}
	return nil
}
