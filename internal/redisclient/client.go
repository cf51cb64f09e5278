package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"pickup-order-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/reserve_slot.lua
var reserveSlotScript string

//go:embed scripts/release_slot.lua
var releaseSlotScript string

//go:embed scripts/rate_limit.lua
var rateLimitScript string

// Client wraps go-redis with the capacity scripts, shared rate-limit
// counters and a lock used to run payment retries on one instance
type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
	limitScript   *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveSlotScript),
		releaseScript: redis.NewScript(releaseSlotScript),
		limitScript:   redis.NewScript(rateLimitScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection, used by readiness checks
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func capacityKey(key models.SlotKey) string {
	return "capacity:" + key.String()
}

// ReserveSlot atomically creates the entry with defaultTotal if missing and
// increments it when units still fit. Returns false when the slot is full.
func (c *Client) ReserveSlot(ctx context.Context, key models.SlotKey, units, defaultTotal int) (bool, error) {
	result, err := c.reserveScript.Run(ctx, c.rdb, []string{capacityKey(key)}, units, defaultTotal).Result()
	if err != nil {
		return false, fmt.Errorf("reserve slot script failed: %w", err)
	}

	success, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type %T", result)
	}

	return success == 1, nil
}

// ReleaseSlot atomically returns units to a slot, floored at zero
func (c *Client) ReleaseSlot(ctx context.Context, key models.SlotKey, units int) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{capacityKey(key)}, units).Result()
	if err != nil {
		return fmt.Errorf("release slot script failed: %w", err)
	}

	return nil
}

// SlotUsage reads the entries that exist for keys in one pipeline
func (c *Client) SlotUsage(ctx context.Context, keys []models.SlotKey) (map[string]models.CapacityEntry, error) {
	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGetAll(ctx, capacityKey(k))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("slot usage pipeline failed: %w", err)
	}

	out := make(map[string]models.CapacityEntry, len(keys))
	for i, k := range keys {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		total, _ := strconv.Atoi(fields["total"])
		consumed, _ := strconv.Atoi(fields["consumed"])
		out[k.String()] = models.CapacityEntry{
			PartnerID:     k.PartnerID,
			ServiceType:   k.ServiceType,
			SlotStart:     k.SlotStart,
			TotalUnits:    total,
			ConsumedUnits: consumed,
		}
	}
	return out, nil
}

// Allow counts one hit for scope+actor in the current fixed window and
// reports whether the hit is within limit. Counters are shared by every
// instance pointing at the same Redis.
func (c *Client) Allow(ctx context.Context, scope, actor string, limit int, window time.Duration) (bool, error) {
	bucket := time.Now().UnixNano() / int64(window)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", scope, actor, bucket)

	result, err := c.limitScript.Run(ctx, c.rdb, []string{key}, limit, window.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit script failed: %w", err)
	}
	count, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type %T", result)
	}
	return count >= 0, nil
}

// Lock is a held distributed lock
type Lock struct {
	key   string
	token string
}

// AcquireLock acquires a distributed lock. A nil lock means another holder
// has it.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{key: fmt.Sprintf("lock:%s", lockKey), token: uuid.New().String()}
	ok, err := c.rdb.SetNX(ctx, lock.key, lock.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return lock, nil
}

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0`)

// ReleaseLock releases a distributed lock if this holder still owns it
func (c *Client) ReleaseLock(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	return unlockScript.Run(ctx, c.rdb, []string{lock.key}, lock.token).Err()
}
