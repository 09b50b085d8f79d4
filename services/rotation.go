package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

const rotationKeyPrefix = "automation:rotation:"

// RotationKey names the cursor of a round-robin routing rule
func RotationKey(ruleID int64) string {
	return fmt.Sprintf("routing_rule:%d", ruleID)
}

// RedisRotationCursor keeps round-robin positions in Redis so every API and
// worker process shares one rotation per rule
type RedisRotationCursor struct {
	Redis  *redis.Client
	Prefix string
}

func NewRedisRotationCursor(client *redis.Client) *RedisRotationCursor {
	return &RedisRotationCursor{Redis: client, Prefix: rotationKeyPrefix}
}

// Next increments and returns the position for key, starting at 1
func (c *RedisRotationCursor) Next(ctx context.Context, key string) (int64, error) {
	pos, err := c.Redis.Incr(ctx, c.Prefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("rotation cursor %s: %w", key, err)
	}
	return pos, nil
}

// MemoryRotationCursor is a process-local cursor for tests and dry runs
type MemoryRotationCursor struct {
	mu        sync.Mutex
	positions map[string]int64
}

func NewMemoryRotationCursor() *MemoryRotationCursor {
	return &MemoryRotationCursor{positions: make(map[string]int64)}
}

func (c *MemoryRotationCursor) Next(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.positions[key]++
	return c.positions[key], nil
}
