package cache

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFetchesOnMissAndCachesResult(t *testing.T) {
	c := NewResourceCache(time.Minute)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (interface{}, error) {
		calls++
		return "instances", nil
	}

	v, err := c.Get(ctx, "ec2:us-east-1:instances", fetch)
	require.NoError(t, err)
	assert.Equal(t, "instances", v)
	assert.Equal(t, 1, calls)

	v, err = c.Get(ctx, "ec2:us-east-1:instances", fetch)
	require.NoError(t, err)
	assert.Equal(t, "instances", v)
	assert.Equal(t, 1, calls, "second get must be served from cache")
}

func TestGetRefetchesAfterTTL(t *testing.T) {
	c := NewResourceCache(10 * time.Millisecond)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (interface{}, error) {
		calls++
		return calls, nil
	}

	_, err := c.Get(ctx, "rds:us-east-1:instances", fetch)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	v, err := c.Get(ctx, "rds:us-east-1:instances", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, calls)
}

func TestGetFetchErrorNotCached(t *testing.T) {
	c := NewResourceCache(time.Minute)
	ctx := context.Background()

	fetchErr := errors.New("throttled")
	calls := 0
	fetch := func(ctx context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, fetchErr
		}
		return "ok", nil
	}

	_, err := c.Get(ctx, "s3:global:buckets", fetch)
	assert.ErrorIs(t, err, fetchErr)

	v, err := c.Get(ctx, "s3:global:buckets", fetch)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	c := NewResourceCache(time.Minute)
	ctx := context.Background()

	var calls int64
	fetch := func(ctx context.Context) (interface{}, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "shared", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(ctx, "iam:global:users", fetch)
			assert.NoError(t, err)
			assert.Equal(t, "shared", v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestSetOverwritesWithCustomTTL(t *testing.T) {
	c := NewResourceCache(time.Minute)

	c.Set("ec2:us-east-1:volumes", "old", 0)
	c.Set("ec2:us-east-1:volumes", "new", 10*time.Millisecond)

	assert.True(t, c.Has("ec2:us-east-1:volumes"))
	time.Sleep(25 * time.Millisecond)
	assert.False(t, c.Has("ec2:us-east-1:volumes"))
}

func TestInvalidateByService(t *testing.T) {
	c := NewResourceCache(time.Minute)
	c.Set("ec2:us-east-1:instances", 1, 0)
	c.Set("ec2:us-west-2:instances", 2, 0)
	c.Set("rds:us-east-1:instances", 3, 0)

	removed := c.InvalidateByService("ec2")

	assert.Equal(t, 2, removed)
	assert.False(t, c.Has("ec2:us-east-1:instances"))
	assert.False(t, c.Has("ec2:us-west-2:instances"))
	assert.True(t, c.Has("rds:us-east-1:instances"))
}

func TestInvalidateByRegion(t *testing.T) {
	c := NewResourceCache(time.Minute)
	c.Set("ec2:us-east-1:instances", 1, 0)
	c.Set("rds:us-east-1:instances", 2, 0)
	c.Set("ec2:eu-west-1:instances", 3, 0)

	removed := c.InvalidateByRegion("us-east-1")

	assert.Equal(t, 2, removed)
	assert.True(t, c.Has("ec2:eu-west-1:instances"))
}

func TestInvalidatePattern(t *testing.T) {
	c := NewResourceCache(time.Minute)
	c.Set("ec2:us-east-1:security-groups", 1, 0)
	c.Set("ec2:us-east-1:instances", 2, 0)

	removed := c.InvalidatePattern(regexp.MustCompile(`security-groups$`))

	assert.Equal(t, 1, removed)
	assert.True(t, c.Has("ec2:us-east-1:instances"))
}

func TestStatsAndHitRate(t *testing.T) {
	c := NewResourceCache(time.Minute)
	ctx := context.Background()
	fetch := func(ctx context.Context) (interface{}, error) { return "v", nil }

	_, _ = c.Get(ctx, "k1", fetch) // miss
	_, _ = c.Get(ctx, "k1", fetch) // hit
	_, _ = c.Get(ctx, "k1", fetch) // hit
	_, _ = c.Get(ctx, "k2", fetch) // miss

	stats := c.GetStats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
	assert.Equal(t, 2, stats.Size)

	c.ResetStats()
	stats = c.GetStats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Equal(t, 0.0, stats.HitRate)
	assert.Equal(t, 2, stats.Size, "resetting stats must not drop entries")
}

func TestOneMissCountsOnce(t *testing.T) {
	c := NewResourceCache(time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "ec2:us-east-1:volumes", func(ctx context.Context) (interface{}, error) {
		return "v", nil
	})
	require.NoError(t, err)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Misses, "fetching recheck must not count a second miss")
	assert.Zero(t, stats.Hits)
}

func TestCleanupSweepsExpiredEntries(t *testing.T) {
	c := NewResourceCache(time.Minute)
	c.Set("stale", 1, 5*time.Millisecond)
	c.Set("fresh", 2, time.Minute)

	time.Sleep(15 * time.Millisecond)
	removed := c.Cleanup()

	assert.Equal(t, 1, removed)
	assert.True(t, c.Has("fresh"))

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Evictions)
}

func TestKeyComposition(t *testing.T) {
	assert.Equal(t, "ec2:us-east-1:instances:running",
		Key("ec2", "us-east-1", "instances", "running"))
}
