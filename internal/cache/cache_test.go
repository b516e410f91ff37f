package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/internal/cache"
	"github.com/kiranshivaraju/casefile/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis runs one Redis 7 container for the whole test. ExpireNX needs 7+.
func startRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	endpoint, err := container.PortEndpoint(ctx, "6379/tcp", "redis")
	require.NoError(t, err)

	rc, err := cache.NewRedisCache(endpoint)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })
	require.NoError(t, rc.Ping(ctx))
	return rc
}

func TestRedisCache(t *testing.T) {
	rc := startRedis(t)
	ctx := context.Background()

	t.Run("bytes round trip and miss", func(t *testing.T) {
		require.NoError(t, rc.Set(ctx, "presign:evidence:abc", []byte("https://signed"), 10*time.Second))

		val, found, err := rc.Get(ctx, "presign:evidence:abc")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "https://signed", string(val))

		val, found, err = rc.Get(ctx, "presign:evidence:missing")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, val)
	})

	t.Run("ttl expires entries", func(t *testing.T) {
		require.NoError(t, rc.Set(ctx, "short", []byte("x"), time.Second))
		require.Eventually(t, func() bool {
			_, found, err := rc.Get(ctx, "short")
			return err == nil && !found
		}, 3*time.Second, 100*time.Millisecond)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, rc.Set(ctx, "del", []byte("x"), 10*time.Second))
		require.NoError(t, rc.Delete(ctx, "del"))
		require.NoError(t, rc.Delete(ctx, "del"))

		_, found, err := rc.Get(ctx, "del")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("job snapshot replaces older snapshot", func(t *testing.T) {
		step := "ocr"
		job := models.Job{
			ID:          uuid.New(),
			Status:      models.JobStatusRunning,
			CurrentStep: &step,
			Progress:    map[string]any{"image": 1, "total_images": 3},
			CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
		}
		require.NoError(t, rc.PutJob(ctx, job, 10*time.Second))

		job.Status = models.JobStatusCompleted
		job.Result = &models.JobResult{MessageID: uuid.New(), Hypothesis: "forced entry", ObjectsDetected: 4}
		require.NoError(t, rc.PutJob(ctx, job, 10*time.Second))

		got, found, err := rc.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, models.JobStatusCompleted, got.Status)
		assert.Equal(t, "ocr", *got.CurrentStep)
		assert.EqualValues(t, 3, got.Progress["total_images"])
		assert.Equal(t, job.Result.MessageID, got.Result.MessageID)
		assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("unknown job is a miss", func(t *testing.T) {
		got, found, err := rc.GetJob(ctx, uuid.New())
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, got)
	})

	t.Run("counter window does not slide", func(t *testing.T) {
		key := cache.RateLimitKey("10.0.0." + uuid.NewString()[:4])
		for want := int64(1); want <= 3; want++ {
			n, err := rc.IncrWithExpiry(ctx, key, 2*time.Second)
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}

		time.Sleep(1200 * time.Millisecond)
		_, err := rc.IncrWithExpiry(ctx, key, 2*time.Second)
		require.NoError(t, err)

		// The fourth hit must not have pushed the expiry out by another 2s.
		require.Eventually(t, func() bool {
			n, err := rc.IncrWithExpiry(ctx, key, 2*time.Second)
			return err == nil && n == 1
		}, 2*time.Second, 100*time.Millisecond)
	})
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := cache.NewRedisCache("localhost:6379")
	assert.ErrorContains(t, err, "parse redis url")
}

func TestDecodeJob_Malformed(t *testing.T) {
	_, err := cache.DecodeJob([]byte("{"))
	assert.ErrorContains(t, err, "decode job snapshot")
}

func TestEncodeJob_UsesAPIFieldNames(t *testing.T) {
	raw, err := cache.EncodeJob(models.Job{ID: uuid.New(), Status: models.JobStatusPending})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"job_id"`)
	assert.Contains(t, string(raw), `"status":"pending"`)
}

func TestKeyBuilders(t *testing.T) {
	jobID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	assert.Equal(t, "job:22222222-2222-2222-2222-222222222222", cache.JobKey(jobID))
	assert.Equal(t, "ratelimit:10.0.0.7", cache.RateLimitKey("10.0.0.7"))

	key := cache.PresignedURLKey("evidence", "conversations/abc/scene.jpg")
	assert.Regexp(t, `^presign:evidence:[0-9a-f]{32}$`, key)
	assert.Equal(t, key, cache.PresignedURLKey("evidence", "conversations/abc/scene.jpg"))
	assert.NotEqual(t, key, cache.PresignedURLKey("evidence", "conversations/abc/other.jpg"))
	assert.NotEqual(t, key, cache.PresignedURLKey("archive", "conversations/abc/scene.jpg"))
}
