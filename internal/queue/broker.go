package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBrokerUnavailable signals that the broker could not be reached. Callers
// mark the affected document failed with a retry-oriented message instead of
// leaving it silently stuck in pending.
var ErrBrokerUnavailable = errors.New("job broker unavailable")

// streamClient is the slice of redis commands the broker issues.
// *redis.Client satisfies it.
type streamClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XLen(ctx context.Context, stream string) *redis.IntCmd
	XInfoGroups(ctx context.Context, key string) *redis.XInfoGroupsCmd
	XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd
}

// Broker stages pipeline jobs on a Redis stream with at-most-one
// queued-or-running job per document, enforced through a SETNX dedup key.
type Broker struct {
	client   streamClient
	stream   string
	dedupTTL time.Duration
	maxLen   int64
}

// NewBroker creates a Broker publishing to stream. dedupTTL bounds how long
// a dedup key can outlive a crashed worker before the slot frees itself.
func NewBroker(client streamClient, stream string, dedupTTL time.Duration, maxLen int64) *Broker {
	if dedupTTL <= 0 {
		dedupTTL = 2 * time.Hour
	}
	return &Broker{client: client, stream: stream, dedupTTL: dedupTTL, maxLen: maxLen}
}

// Enqueue stages a pipeline job for the document. Returns false when a job
// with the same key is already queued or running; that is an already-queued
// signal, not an error. Broker connectivity problems are wrapped in
// ErrBrokerUnavailable.
func (b *Broker) Enqueue(ctx context.Context, documentID int64) (bool, error) {
	key := JobKey(documentID)
	claimed, err := b.client.SetNX(ctx, key, "1", b.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %v", ErrBrokerUnavailable, key, err)
	}
	if !claimed {
		return false, nil
	}

	data, err := json.Marshal(ProcessPayload{DocumentID: documentID})
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		EventID:    uuid.NewString(),
		EventType:  EventDocumentProcess,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	raw, err := env.Marshal()
	if err != nil {
		return false, err
	}

	args := &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		// Free the slot so a later enqueue can try again.
		_ = b.client.Del(context.WithoutCancel(ctx), key).Err()
		return false, fmt.Errorf("%w: xadd %s: %v", ErrBrokerUnavailable, b.stream, err)
	}
	return true, nil
}

// Release frees the document's job slot. Workers call it after the pipeline
// reaches a terminal state so a fresh enqueue is accepted again.
func (b *Broker) Release(ctx context.Context, documentID int64) error {
	if err := b.client.Del(ctx, JobKey(documentID)).Err(); err != nil {
		return fmt.Errorf("release job key: %w", err)
	}
	return nil
}

// Stream returns the stream name jobs are published to.
func (b *Broker) Stream() string { return b.stream }

// GroupStatus describes the document job backlog as seen by one consumer
// group: how many jobs sit on the stream, how many were delivered but not
// yet acknowledged, and how long the oldest unacknowledged job has waited.
type GroupStatus struct {
	Depth      int64
	Pending    int64
	Lag        int64
	Consumers  int64
	OldestIdle time.Duration
}

// GroupStatus reports the backlog of the broker's stream for group. A group
// Redis does not know about yet (no worker has started) yields Lag -1 and
// zero counters rather than an error.
func (b *Broker) GroupStatus(ctx context.Context, group string) (GroupStatus, error) {
	if group == "" {
		return GroupStatus{}, fmt.Errorf("group is required")
	}

	depth, err := b.client.XLen(ctx, b.stream).Result()
	if err != nil {
		return GroupStatus{}, fmt.Errorf("%w: xlen %s: %v", ErrBrokerUnavailable, b.stream, err)
	}

	status := GroupStatus{Depth: depth, Lag: -1}
	groups, err := b.client.XInfoGroups(ctx, b.stream).Result()
	if err != nil {
		return GroupStatus{}, fmt.Errorf("%w: xinfo groups %s: %v", ErrBrokerUnavailable, b.stream, err)
	}
	for _, g := range groups {
		if g.Name != group {
			continue
		}
		status.Pending = g.Pending
		status.Lag = g.Lag
		status.Consumers = int64(g.Consumers)
		break
	}

	if status.Pending == 0 {
		return status, nil
	}
	oldest, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: b.stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  1,
	}).Result()
	if err != nil && err != redis.Nil {
		return GroupStatus{}, fmt.Errorf("%w: xpending %s: %v", ErrBrokerUnavailable, b.stream, err)
	}
	if len(oldest) > 0 {
		status.OldestIdle = oldest[0].Idle
	}
	return status, nil
}
