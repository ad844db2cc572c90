package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventGuard lets concurrent dispatchers agree on who handles a (event, user) pair.
// The notifications table unique index stays the source of truth; a guard only
// avoids two replicas racing on the same event before either row is written.
type EventGuard interface {
	Claim(ctx context.Context, eventID string, userID string) (bool, error)
	Release(ctx context.Context, eventID string, userID string) error
}

// RedisEventGuard claims events with SET NX.
type RedisEventGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisEventGuard connects to the redis server at redisURL (redis://...).
func NewRedisEventGuard(redisURL string, ttl time.Duration) (*RedisEventGuard, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDISURL: %w", err)
	}
	return &RedisEventGuard{client: redis.NewClient(options), ttl: ttl}, nil
}

func eventGuardKey(eventID string, userID string) string {
	return fmt.Sprintf("notifyd:event:%s:%s", eventID, userID)
}

func (g *RedisEventGuard) Claim(ctx context.Context, eventID string, userID string) (bool, error) {
	return g.client.SetNX(ctx, eventGuardKey(eventID, userID), time.Now().Unix(), g.ttl).Result()
}

func (g *RedisEventGuard) Release(ctx context.Context, eventID string, userID string) error {
	return g.client.Del(ctx, eventGuardKey(eventID, userID)).Err()
}

func (g *RedisEventGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

func (g *RedisEventGuard) Close() error {
	return g.client.Close()
}
