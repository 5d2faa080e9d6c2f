package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type listPusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisSink pushes notifications as JSON onto a Redis list consumed by the
// mail and chat workers.
type RedisSink struct {
	client listPusher
	key    string
}

func NewRedisSink(client listPusher, key string) *RedisSink {
	return &RedisSink{client: client, key: key}
}

// DialRedis parses redisURL and checks the server answers.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisSink) Notify(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := s.client.LPush(ctx, s.key, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	return nil
}
