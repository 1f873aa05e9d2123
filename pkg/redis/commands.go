package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Get returns redis.Nil when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.cmds == nil {
		return "", ErrNotInitialized
	}
	return c.cmds.Get(ctx, key).Result()
}

// SetNX reports whether this call created the key.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.cmds == nil {
		return false, ErrNotInitialized
	}
	return c.cmds.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.cmds == nil {
		return ErrNotInitialized
	}
	return c.cmds.Del(ctx, keys...).Err()
}

var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// ReleaseIfOwner deletes key only while it still holds owner, in one round
// trip. It reports whether the key was deleted.
func (c *Client) ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error) {
	if c.conn == nil {
		return false, ErrNotInitialized
	}
	deleted, err := releaseIfOwner.Run(ctx, c.conn, []string{key}, owner).Int()
	if err != nil {
		return false, err
	}
	return deleted == 1, nil
}

// IncrWithTTL counts hits in a fixed window. Only the first hit sets the
// expiry, so later hits never extend the window.
func (c *Client) IncrWithTTL(ctx context.Context, key string, window time.Duration) (int64, error) {
	if c.cmds == nil {
		return 0, ErrNotInitialized
	}
	count, err := c.cmds.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 && window > 0 {
		if err := c.cmds.Expire(ctx, key, window).Err(); err != nil {
			return count, err
		}
	}
	return count, nil
}

// Publish returns the number of subscribers that received the message.
func (c *Client) Publish(ctx context.Context, channel string, message any) (int64, error) {
	if c.cmds == nil {
		return 0, ErrNotInitialized
	}
	return c.cmds.Publish(ctx, channel, message).Result()
}

// Subscribe waits for the subscription to be confirmed. The caller closes
// the returned PubSub.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	if c.conn == nil {
		return nil, ErrNotInitialized
	}
	sub := c.conn.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}
	return sub, nil
}
