package jobs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisTracker(t *testing.T) {
	addr := os.Getenv("ASSESSOR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ASSESSOR_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())

	tracker := NewRedisTracker(client, time.Minute, time.Hour)
	jobID := uuid.New()
	t.Cleanup(func() { client.Del(ctx, redisKeyPrefix+jobID.String()) })

	_, err := tracker.Update(ctx, jobID, Update{Status: StatusRunning, Year: 2025, Progress: &Progress{Total: 3, TotalProcessed: 1}})
	require.NoError(t, err)
	ttl, err := client.TTL(ctx, redisKeyPrefix+jobID.String()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Minute)

	_, err = tracker.Update(ctx, jobID, Update{Status: StatusCompleted})
	require.NoError(t, err)
	ttl, err = client.TTL(ctx, redisKeyPrefix+jobID.String()).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Minute)

	got, err := tracker.Get(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 2025, got.Year)
	assert.Equal(t, 1, got.Progress.TotalProcessed)

	missing, err := tracker.Get(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
