package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceCache tracks which users currently hold at least one live socket.
type PresenceCache interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineUsers(ctx context.Context) ([]string, error)
}

type presenceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPresenceCache creates a new presence cache. Entries carry a TTL so a
// crashed server does not leave users online forever; live connections
// refresh the mark on each ping.
func NewPresenceCache(client *redis.Client) PresenceCache {
	return &presenceCache{
		client: client,
		ttl:    2 * time.Minute,
	}
}

const presenceSetKey = "presence:online"

func (c *presenceCache) key(userID string) string {
	return "presence:user:" + userID
}

func (c *presenceCache) SetOnline(ctx context.Context, userID string) error {
	pipe := c.client.Pipeline()
	pipe.Set(ctx, c.key(userID), "1", c.ttl)
	pipe.SAdd(ctx, presenceSetKey, userID)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *presenceCache) SetOffline(ctx context.Context, userID string) error {
	pipe := c.client.Pipeline()
	pipe.Del(ctx, c.key(userID))
	pipe.SRem(ctx, presenceSetKey, userID)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *presenceCache) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(userID)).Result()
	return n > 0, err
}

func (c *presenceCache) OnlineUsers(ctx context.Context) ([]string, error) {
	ids, err := c.client.SMembers(ctx, presenceSetKey).Result()
	if err != nil {
		return nil, err
	}
	// Drop stale set members whose per-user mark has expired.
	out := ids[:0]
	for _, id := range ids {
		ok, err := c.IsOnline(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, id)
		} else {
			c.client.SRem(ctx, presenceSetKey, id)
		}
	}
	return out, nil
}
