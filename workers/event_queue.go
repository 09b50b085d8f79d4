package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/coverdesk/automation/db"
)

// EventQueue is the transport between event producers and the TriggerWorker
type EventQueue interface {
	Push(ctx context.Context, payload []byte) error
	// Pop blocks up to timeout and returns nil, nil when nothing arrived
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// RedisEventQueue is a FIFO list: producers LPUSH, the worker BRPOPs
type RedisEventQueue struct {
	Client *redis.Client
	Key    string
}

func NewRedisEventQueue(client *redis.Client, key string) *RedisEventQueue {
	return &RedisEventQueue{Client: client, Key: key}
}

func (q *RedisEventQueue) Push(ctx context.Context, payload []byte) error {
	return q.Client.LPush(ctx, q.Key, payload).Err()
}

func (q *RedisEventQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.Client.BRPop(ctx, timeout, q.Key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP answers [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}
	return []byte(res[1]), nil
}

// EventPublisher serializes domain events onto an EventQueue
type EventPublisher struct {
	Queue EventQueue
	Now   func() time.Time
}

func NewEventPublisher(queue EventQueue) *EventPublisher {
	return &EventPublisher{Queue: queue, Now: time.Now}
}

// Publish announces event for asynchronous processing
func (p *EventPublisher) Publish(ctx context.Context, event string, agencyID *int64, payload map[string]interface{}) error {
	if event == "" {
		return errors.New("event is required")
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	body, err := json.Marshal(db.DomainEvent{
		Event:      event,
		AgencyID:   agencyID,
		Context:    payload,
		EnqueuedAt: now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := p.Queue.Push(ctx, body); err != nil {
		return fmt.Errorf("failed to enqueue event %s: %w", event, err)
	}
	return nil
}
