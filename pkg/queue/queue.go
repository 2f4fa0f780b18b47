package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// MaxReceives is the number of deliveries before a message is dead-lettered.
	MaxReceives = 2
)

// Message is the queue envelope. Receipt is only set on received messages and
// is required to delete the message before its visibility window lapses.
type Message struct {
	ID         string          `json:"id"`
	Body       json.RawMessage `json:"body"`
	Receives   int             `json:"receives"`
	EnqueuedAt time.Time       `json:"enqueued_at"`

	receipt string
}

// Queue provides SQS-style message delivery on Redis: delayed visibility,
// per-message visibility timeout with redelivery, and a dead-letter list
// after MaxReceives deliveries.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// New creates a Redis-backed queue.
func New(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func readyKey(name string) string    { return name + ":ready" }
func delayedKey(name string) string  { return name + ":delayed" }
func inflightKey(name string) string { return name + ":inflight" }
func dlqKey(name string) string      { return name + ":dlq" }

// Send enqueues body on the named queue. A non-zero delay keeps the message
// invisible to consumers until the delay elapses.
func (q *Queue) Send(ctx context.Context, name string, body interface{}, delay time.Duration) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	msg := Message{
		ID:         uuid.New().String(),
		Body:       raw,
		EnqueuedAt: time.Now().UTC(),
	}
	envelope, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if delay > 0 {
		visibleAt := float64(time.Now().Add(delay).UnixMilli())
		if err := q.client.ZAdd(ctx, delayedKey(name), redis.Z{Score: visibleAt, Member: envelope}).Err(); err != nil {
			return fmt.Errorf("zadd delayed: %w", err)
		}
	} else {
		if err := q.client.RPush(ctx, readyKey(name), envelope).Err(); err != nil {
			return fmt.Errorf("rpush: %w", err)
		}
	}
	q.logger.Debug("message sent",
		zap.String("queue", name),
		zap.String("message_id", msg.ID),
		zap.Duration("delay", delay))
	return nil
}

// Receive returns the next visible message, or nil if the queue is empty.
// The message stays invisible to other consumers for the visibility window;
// if it is not deleted before the window lapses it becomes deliverable again.
func (q *Queue) Receive(ctx context.Context, name string, visibility time.Duration) (*Message, error) {
	if err := q.promote(ctx, name); err != nil {
		return nil, err
	}
	raw, err := q.client.LPop(ctx, readyKey(name)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lpop: %w", err)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		q.logger.Warn("dropping undecodable message", zap.String("queue", name), zap.Error(err))
		return nil, nil
	}
	msg.Receives++
	envelope, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	deadline := float64(time.Now().Add(visibility).UnixMilli())
	if err := q.client.ZAdd(ctx, inflightKey(name), redis.Z{Score: deadline, Member: envelope}).Err(); err != nil {
		return nil, fmt.Errorf("zadd inflight: %w", err)
	}
	msg.receipt = string(envelope)
	return &msg, nil
}

// Delete durably removes a received message. Must be called before the
// visibility window lapses or the message may be processed twice.
func (q *Queue) Delete(ctx context.Context, name string, msg *Message) error {
	if msg == nil || msg.receipt == "" {
		return fmt.Errorf("message has no receipt")
	}
	if err := q.client.ZRem(ctx, inflightKey(name), msg.receipt).Err(); err != nil {
		return fmt.Errorf("zrem inflight: %w", err)
	}
	return nil
}

// promote moves due delayed messages and expired in-flight messages back to
// the ready list; in-flight messages past MaxReceives go to the DLQ instead.
func (q *Queue) promote(ctx context.Context, name string) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	due, err := q.client.ZRangeByScore(ctx, delayedKey(name), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return fmt.Errorf("zrangebyscore delayed: %w", err)
	}
	for _, envelope := range due {
		removed, err := q.client.ZRem(ctx, delayedKey(name), envelope).Result()
		if err != nil {
			return fmt.Errorf("zrem delayed: %w", err)
		}
		if removed == 0 {
			continue // another consumer promoted it
		}
		if err := q.client.RPush(ctx, readyKey(name), envelope).Err(); err != nil {
			return fmt.Errorf("rpush ready: %w", err)
		}
	}

	expired, err := q.client.ZRangeByScore(ctx, inflightKey(name), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return fmt.Errorf("zrangebyscore inflight: %w", err)
	}
	for _, envelope := range expired {
		removed, err := q.client.ZRem(ctx, inflightKey(name), envelope).Result()
		if err != nil {
			return fmt.Errorf("zrem inflight: %w", err)
		}
		if removed == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(envelope), &msg); err != nil {
			q.logger.Warn("dropping undecodable in-flight message", zap.String("queue", name), zap.Error(err))
			continue
		}
		if msg.Receives >= MaxReceives {
			if err := q.client.RPush(ctx, dlqKey(name), envelope).Err(); err != nil {
				return fmt.Errorf("rpush dlq: %w", err)
			}
			q.logger.Warn("message moved to DLQ",
				zap.String("queue", name),
				zap.String("message_id", msg.ID),
				zap.Int("receives", msg.Receives))
			continue
		}
		if err := q.client.RPush(ctx, readyKey(name), envelope).Err(); err != nil {
			return fmt.Errorf("rpush ready: %w", err)
		}
		q.logger.Info("message redelivered after visibility timeout",
			zap.String("queue", name),
			zap.String("message_id", msg.ID),
			zap.Int("receives", msg.Receives))
	}
	return nil
}
