package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisQueue struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisQueue(client *redis.Client, log *zap.Logger) *RedisQueue {
	return &RedisQueue{client: client, log: log}
}

func pendingKey(queueName string) string  { return "queue:" + queueName }
func inflightKey(queueName string) string { return "queue:" + queueName + ":inflight" }
func delayedKey(queueName string) string  { return "queue:" + queueName + ":delayed" }

// promoteBatch caps how many due items one PromoteDue call moves.
const promoteBatch = 100

// Moves due members of the delayed set onto the pending list in one step, so
// two workers promoting at once cannot both push the same item.
var promoteScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, item in ipairs(items) do
	redis.call('ZREM', KEYS[1], item)
	redis.call('LPUSH', KEYS[2], item)
end
return #items
`)

func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, payload []byte) error {
	return q.client.LPush(ctx, pendingKey(queueName), payload).Err()
}

func (q *RedisQueue) EnqueueAt(ctx context.Context, queueName string, payload []byte, at time.Time) error {
	return q.client.ZAdd(ctx, delayedKey(queueName), redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: payload,
	}).Err()
}

// PromoteDue makes delayed items whose time has come reservable.
func (q *RedisQueue) PromoteDue(ctx context.Context, queueName string, now time.Time) (int, error) {
	return promoteScript.Run(ctx, q.client,
		[]string{delayedKey(queueName), pendingKey(queueName)},
		now.UnixMilli(), promoteBatch,
	).Int()
}

// Reserve atomically moves the oldest item into the in-flight list.
func (q *RedisQueue) Reserve(ctx context.Context, queueName string, timeout time.Duration) ([]byte, error) {
	data, err := q.client.BLMove(ctx, pendingKey(queueName), inflightKey(queueName), "RIGHT", "LEFT", timeout).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	return data, err
}

func (q *RedisQueue) Ack(ctx context.Context, queueName string, payload []byte) error {
	return q.client.LRem(ctx, inflightKey(queueName), 1, payload).Err()
}

// RecoverInflight pushes everything left in flight by a previous worker back
// onto the pending list. Call once before consuming.
func (q *RedisQueue) RecoverInflight(ctx context.Context, queueName string) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, inflightKey(queueName), pendingKey(queueName), "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		q.log.Warn("requeued in-flight items", zap.String("queue", queueName), zap.Int("count", n))
	}
	return n, nil
}
