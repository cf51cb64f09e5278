package redisclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pickup-order-service/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewFromRedis(rdb), mr
}

func slotKey() models.SlotKey {
	return models.NewSlotKey("partner-1", models.ServiceLaundry, time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC))
}

func TestReserveSlotCreatesEntryLazily(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := c.ReserveSlot(ctx, slotKey(), 1, 8)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "8", mr.HGet(capacityKey(slotKey()), "total"))
	assert.Equal(t, "1", mr.HGet(capacityKey(slotKey()), "consumed"))
}

func TestReserveSlotRejectsOverflow(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	key := models.NewSlotKey("partner-2", models.ServiceCleaning, time.Now())

	ok, err := c.ReserveSlot(ctx, key, 300, 480)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.ReserveSlot(ctx, key, 200, 480)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.ReserveSlot(ctx, key, 180, 480)
	require.NoError(t, err)
	assert.True(t, ok)

	usage, err := c.SlotUsage(ctx, []models.SlotKey{key})
	require.NoError(t, err)
	assert.Equal(t, 480, usage[key.String()].ConsumedUnits)
}

func TestReserveSlotConcurrent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	const n, total = 30, 8
	var wg sync.WaitGroup
	var successes int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.ReserveSlot(ctx, slotKey(), 1, total)
			if err == nil && ok {
				atomic.AddInt64(&successes, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(total), successes)
}

func TestReleaseSlotFloorsAtZero(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, err := c.ReserveSlot(ctx, slotKey(), 2, 8)
	require.NoError(t, err)

	require.NoError(t, c.ReleaseSlot(ctx, slotKey(), 5))
	assert.Equal(t, "0", mr.HGet(capacityKey(slotKey()), "consumed"))

	missing := models.NewSlotKey("nobody", models.ServiceLaundry, time.Now())
	require.NoError(t, c.ReleaseSlot(ctx, missing, 1))
	assert.False(t, mr.Exists(capacityKey(missing)))
}

func TestSlotUsageSkipsMissing(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.ReserveSlot(ctx, slotKey(), 3, 8)
	require.NoError(t, err)
	other := models.NewSlotKey("partner-1", models.ServiceLaundry, slotKey().SlotStart.Add(2*time.Hour))

	usage, err := c.SlotUsage(ctx, []models.SlotKey{slotKey(), other})
	require.NoError(t, err)
	assert.Len(t, usage, 1)
	assert.Equal(t, 3, usage[slotKey().String()].ConsumedUnits)
	assert.Equal(t, 8, usage[slotKey().String()].TotalUnits)
}

func TestAllowFixedWindow(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := c.Allow(ctx, "bookings", "customer:42", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := c.Allow(ctx, "bookings", "customer:42", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Allow(ctx, "bookings", "customer:7", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockExclusive(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	lock, err := c.AcquireLock(ctx, "payment-retries", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lock)

	second, err := c.AcquireLock(ctx, "payment-retries", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, c.ReleaseLock(ctx, lock))
	third, err := c.AcquireLock(ctx, "payment-retries", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, third)
}
