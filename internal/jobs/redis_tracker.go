package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "assessor:jobs:"

// RedisTracker shares job state between server replicas. Redis key expiry
// enforces retention, so no sweep is needed.
type RedisTracker struct {
	client    redis.UniversalClient
	retention time.Duration
	activeTTL time.Duration
	now       func() time.Time
}

var _ Tracker = (*RedisTracker)(nil)

// NewRedisTracker keeps terminal jobs for retention. Jobs still running expire
// after activeTTL without an update.
func NewRedisTracker(client redis.UniversalClient, retention, activeTTL time.Duration) *RedisTracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if activeTTL <= 0 {
		activeTTL = 24 * time.Hour
	}
	return &RedisTracker{client: client, retention: retention, activeTTL: activeTTL, now: time.Now}
}

func (t *RedisTracker) Update(ctx context.Context, jobID uuid.UUID, update Update) (JobState, error) {
	key := redisKeyPrefix + jobID.String()
	var state JobState
	err := t.client.Watch(ctx, func(tx *redis.Tx) error {
		state = JobState{}
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &state); err != nil {
				return fmt.Errorf("decode job %s: %w", jobID, err)
			}
		}

		apply(&state, jobID, update, t.now().UTC())
		payload, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode job %s: %w", jobID, err)
		}
		ttl := t.activeTTL
		if state.Status.Terminal() {
			ttl = t.retention
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return JobState{}, fmt.Errorf("update job %s: %w", jobID, err)
	}
	return state, nil
}

func (t *RedisTracker) Get(ctx context.Context, jobID uuid.UUID) (*JobState, error) {
	raw, err := t.client.Get(ctx, redisKeyPrefix+jobID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	var state JobState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &state, nil
}
