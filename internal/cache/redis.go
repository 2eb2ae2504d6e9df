package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xtrntr/powermarket/internal/models"
)

const windowKey = "market:submission_window"

// storeIfNewer replaces the cached window only when ARGV[1] is newer than the
// cached version. A missing key always accepts the write.
var storeIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'window', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// WindowCache keeps the submission window in Redis, shared by every
// countdown connection and every API replica. The hash holds the window JSON
// ("null" when none is configured) and the version it was read or written at.
type WindowCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewWindowCache connects to Redis at addr. ttl bounds how long a value
// may be served if an invalidation is ever lost.
func NewWindowCache(addr, password string, db int, ttl time.Duration) *WindowCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &WindowCache{client: client, ttl: ttl}
}

// Ping checks the connection
func (c *WindowCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *WindowCache) Get(ctx context.Context) (*models.SubmissionWindow, bool, error) {
	data, err := c.client.HGet(ctx, windowKey, "window").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cached window: %w", err)
	}

	var window *models.SubmissionWindow
	if err := json.Unmarshal(data, &window); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached window: %w", err)
	}
	return window, true, nil
}

// Store caches window at version unless the cache already holds the same or
// a newer version. It reports whether the value was written.
func (c *WindowCache) Store(ctx context.Context, version int64, window *models.SubmissionWindow) (bool, error) {
	data, err := json.Marshal(window)
	if err != nil {
		return false, err
	}
	written, err := storeIfNewer.Run(ctx, c.client, []string{windowKey}, version, data, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to store cached window: %w", err)
	}
	return written == 1, nil
}

func (c *WindowCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, windowKey).Err()
}

func (c *WindowCache) Close() error {
	return c.client.Close()
}
