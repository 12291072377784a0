package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoomCodeCache maps short join codes to meeting ids so code lookup skips
// the database on the hot path.
type RoomCodeCache interface {
	Set(ctx context.Context, code, meetingID string) error
	Get(ctx context.Context, code string) (string, error)
	Exists(ctx context.Context, code string) (bool, error)
	Delete(ctx context.Context, code string) error
}

type roomCodeCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRoomCodeCache creates a new room code cache. Codes expire after 24h.
func NewRoomCodeCache(client *redis.Client) RoomCodeCache {
	return &roomCodeCache{
		client: client,
		ttl:    24 * time.Hour,
	}
}

func (c *roomCodeCache) key(code string) string {
	return fmt.Sprintf("roomcode:%s", code)
}

func (c *roomCodeCache) Set(ctx context.Context, code, meetingID string) error {
	return c.client.Set(ctx, c.key(code), meetingID, c.ttl).Err()
}

// Get returns the meeting id for the code, or "" on a miss.
func (c *roomCodeCache) Get(ctx context.Context, code string) (string, error) {
	id, err := c.client.Get(ctx, c.key(code)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *roomCodeCache) Exists(ctx context.Context, code string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(code)).Result()
	return n > 0, err
}

func (c *roomCodeCache) Delete(ctx context.Context, code string) error {
	return c.client.Del(ctx, c.key(code)).Err()
}
