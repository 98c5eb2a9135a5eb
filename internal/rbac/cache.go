package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	grantsVersionKey  = "rbac:grants:version"
	grantsBumpChannel = "rbac.bump"

	loadTimeout = 5 * time.Second
)

// GrantCache is the shared tier in front of a GrantStore. Entries are keyed by
// a global version so Bump invalidates every principal at once. Redis
// failures fall through to the store.
type GrantCache struct {
	next   GrantStore
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewGrantCache wraps next. A nil client disables caching.
func NewGrantCache(next GrantStore, client *redis.Client, ttl time.Duration, logger *slog.Logger) *GrantCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantCache{next: next, client: client, ttl: ttl, logger: logger.With(slog.String("component", "rbac.cache"))}
}

// PrincipalGrants returns cached grants, loading them once per versioned key
// when concurrent requests miss together. A load started before Bump is never
// shared with callers arriving after it.
func (c *GrantCache) PrincipalGrants(ctx context.Context, principalID int64) (Grants, error) {
	if c.client == nil {
		return c.next.PrincipalGrants(ctx, principalID)
	}
	key, err := c.key(ctx, principalID)
	if err != nil {
		c.logger.Warn("grants cache version unavailable", slog.Any("error", err))
		return c.next.PrincipalGrants(ctx, principalID)
	}
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// The shared load outlives any single caller.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return c.load(lctx, key, principalID)
	})
	select {
	case <-ctx.Done():
		return Grants{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Grants{}, res.Err
		}
		return res.Val.(Grants), nil
	}
}

// Bump invalidates every cached entry and announces the new version.
func (c *GrantCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, grantsVersionKey).Result()
	if err != nil {
		return fmt.Errorf("rbac: bump grants cache: %w", err)
	}
	return c.client.Publish(ctx, grantsBumpChannel, strconv.FormatInt(ver, 10)).Err()
}

func (c *GrantCache) load(ctx context.Context, key string, principalID int64) (Grants, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var g Grants
		if err := json.Unmarshal(payload, &g); err == nil {
			return g, nil
		}
		c.logger.Warn("grants cache entry corrupt", slog.String("key", key))
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("grants cache read failed", slog.Any("error", err))
	}

	grants, err := c.next.PrincipalGrants(ctx, principalID)
	if err != nil {
		return Grants{}, err
	}
	raw, err := json.Marshal(grants)
	if err != nil {
		return Grants{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("grants cache write failed", slog.Any("error", err))
	}
	return grants, nil
}

func (c *GrantCache) key(ctx context.Context, principalID int64) (string, error) {
	ver, err := c.client.Get(ctx, grantsVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		ver = 1
		if err := c.client.SetNX(ctx, grantsVersionKey, ver, 0).Err(); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("rbac:grants:%d:v%d", principalID, ver), nil
}
