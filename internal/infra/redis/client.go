package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations shared by bridge processes: poll slot
// counters and the realtime pub/sub channel.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func slotKey(key string) string {
	return fmt.Sprintf("poll_slot:%s", key)
}

// The TTL keeps a crashed holder from pinning the slot forever.
var acquireScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
if n > tonumber(ARGV[1]) then
	redis.call('DECR', KEYS[1])
	return 0
end
return 1
`)

var releaseScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
	redis.call('DEL', KEYS[1])
end
return n
`)

// AcquireSlot takes one of limit concurrent slots for key.
func (c *Client) AcquireSlot(ctx context.Context, key string, limit int, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, c.rdb, []string{slotKey(key)}, limit, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire slot failed: %w", err)
	}
	return n == 1, nil
}

// ReleaseSlot gives back a slot taken with AcquireSlot.
func (c *Client) ReleaseSlot(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{slotKey(key)}).Err(); err != nil {
		return fmt.Errorf("release slot failed: %w", err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription on channel.
func (c *Client) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channel)
}

// Publish sends payload on channel.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}
