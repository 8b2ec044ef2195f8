package db

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects to the redis holding the task queue and the event
// stream. The initial ping is retried a few times.
func NewRedisClient(ctx context.Context, url string, log *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opts.ClientName = applicationName

	client := redis.NewClient(opts)

	const attempts = 3
	for i := 1; ; i++ {
		err = client.Ping(ctx).Err()
		if err == nil || i == attempts {
			break
		}
		log.Warn("redis ping failed, retrying", zap.Int("attempt", i), zap.Error(err))
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(i) * time.Second):
		}
	}
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Info("redis connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return client, nil
}
