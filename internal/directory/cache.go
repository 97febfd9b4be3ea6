package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheVersionKey = "directory:version"
	// BumpChannel carries version bumps between instances.
	BumpChannel = "directory.bump"
)

// CacheRecorder observes cache lookups. Implementations must be safe for concurrent use.
type CacheRecorder interface {
	CacheLookup(op string, hit bool)
}

// Cache wraps Redis based caching of read results with a global version that
// every write bumps.
//
// While ListenForInvalidation runs, the version is held in process and advanced
// by published bumps, so a read costs one Redis round trip instead of two.
// Otherwise every read asks Redis for the version.
type Cache struct {
	client   *redis.Client
	ttl      time.Duration
	group    singleflight.Group
	logger   *slog.Logger
	recorder CacheRecorder

	following atomic.Bool
	// version is the newest version seen while following; 0 when unknown.
	version atomic.Int64
}

// NewCache instantiates the cache helper. A nil client turns every fetch into a
// direct load.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger, recorder CacheRecorder) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger, recorder: recorder}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes the cache key with the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := "directory:" + strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.currentVersion(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", joined, ver), nil
}

func (c *Cache) currentVersion(ctx context.Context) (int64, error) {
	following := c.following.Load()
	if following {
		if ver := c.version.Load(); ver > 0 {
			return ver, nil
		}
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return 0, err
	}
	if following {
		c.advance(ver)
	}
	return ver, nil
}

// advance raises the in-process version to ver; it never moves backwards.
func (c *Cache) advance(ver int64) {
	for {
		cur := c.version.Load()
		if ver <= cur || c.version.CompareAndSwap(cur, ver) {
			return
		}
	}
}

// Fetch loads the value cached under parts into dest, or runs loader and caches
// its result. Concurrent misses for one key share a single load, which is not
// cancelled when the caller that started it goes away. Redis failures are
// logged and never fail the fetch; loader errors are returned unchanged and
// never cached.
func (c *Cache) Fetch(ctx context.Context, op string, dest any, loader func(context.Context) (any, error), parts ...string) error {
	if loader == nil {
		return errors.New("directory cache: loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx, dest, loader)
	}

	key, err := c.BuildKey(ctx, append([]string{op}, parts...)...)
	if err != nil {
		c.logger.Warn("cache version unavailable", slog.String("op", op), slog.Any("error", err))
		return load(ctx, dest, loader)
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		if jsonErr := json.Unmarshal(payload, dest); jsonErr == nil {
			c.record(op, true)
			return nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("cache read failed", slog.String("op", op), slog.Any("error", err))
		return load(ctx, dest, loader)
	}
	c.record(op, false)

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		value, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(loadCtx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("cache write failed", slog.String("op", op), slog.Any("error", err))
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

// Bump invalidates the cache by incrementing the global version and publishing an event.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	if c.following.Load() {
		c.advance(ver)
	}
	return c.client.Publish(ctx, BumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation subscribes to published bumps and holds the version in
// process until ctx ends. It returns once the subscription is confirmed.
func (c *Cache) ListenForInvalidation(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, BumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	c.version.Store(0)
	c.following.Store(true)
	go func() {
		defer func() {
			c.following.Store(false)
			c.version.Store(0)
			_ = pubsub.Close()
		}()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ver, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					c.logger.Warn("ignoring cache bump", slog.String("payload", msg.Payload))
					continue
				}
				c.advance(ver)
			}
		}
	}()
	return nil
}

func (c *Cache) record(op string, hit bool) {
	if c.recorder != nil {
		c.recorder.CacheLookup(op, hit)
	}
}

func load(ctx context.Context, dest any, loader func(context.Context) (any, error)) error {
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
