package cache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// UnreadCache keeps per-user unread counters for each conversation.
type UnreadCache interface {
	Increment(ctx context.Context, userID, convID string) error
	Reset(ctx context.Context, userID, convID string) error
	Count(ctx context.Context, userID, convID string) (int, error)
	Counts(ctx context.Context, userID string) (map[string]int, error)
}

type unreadCache struct {
	client *redis.Client
}

// NewUnreadCache creates a new unread-counter cache.
func NewUnreadCache(client *redis.Client) UnreadCache {
	return &unreadCache{client: client}
}

func (c *unreadCache) key(userID string) string {
	return fmt.Sprintf("unread:%s", userID)
}

func (c *unreadCache) Increment(ctx context.Context, userID, convID string) error {
	return c.client.HIncrBy(ctx, c.key(userID), convID, 1).Err()
}

func (c *unreadCache) Reset(ctx context.Context, userID, convID string) error {
	return c.client.HDel(ctx, c.key(userID), convID).Err()
}

func (c *unreadCache) Count(ctx context.Context, userID, convID string) (int, error) {
	v, err := c.client.HGet(ctx, c.key(userID), convID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

func (c *unreadCache) Counts(ctx context.Context, userID string) (map[string]int, error) {
	raw, err := c.client.HGetAll(ctx, c.key(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(raw))
	for conv, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		out[conv] = n
	}
	return out, nil
}
