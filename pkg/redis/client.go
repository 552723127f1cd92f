package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

const accountStatusKeyFormat = "donations:org:%s:payout_status"

var errNotInitialized = errors.New("redis client not initialized")

// store is the subset of go-redis commands the cache issues.
type store interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client caches organization payout-account status in front of the processor.
type Client struct {
	store store
}

// New dials Redis from cfg and verifies connectivity.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "redis_db", opts.DB), "redis connection established")
	}
	return &Client{store: rdb}, nil
}

func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	default:
		return nil, errors.New("redis url or address is required")
	}

	// Values encoded in the URL win over the discrete settings.
	if opts.PoolSize == 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// AccountStatus returns the cached payout status of an organization. found is
// false on a cache miss.
func (c *Client) AccountStatus(ctx context.Context, organizationID uuid.UUID) (status string, found bool, err error) {
	if c == nil || c.store == nil {
		return "", false, errNotInitialized
	}
	status, err = c.store.Get(ctx, accountStatusKey(organizationID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return status, true, nil
}

// SetAccountStatus caches status for ttl.
func (c *Client) SetAccountStatus(ctx context.Context, organizationID uuid.UUID, status string, ttl time.Duration) error {
	if c == nil || c.store == nil {
		return errNotInitialized
	}
	return c.store.Set(ctx, accountStatusKey(organizationID), status, ttl).Err()
}

// InvalidateAccountStatus drops the cached status so the next lookup asks the processor.
func (c *Client) InvalidateAccountStatus(ctx context.Context, organizationID uuid.UUID) error {
	if c == nil || c.store == nil {
		return errNotInitialized
	}
	return c.store.Del(ctx, accountStatusKey(organizationID)).Err()
}

// Ping is used by /health/ready.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errNotInitialized
	}
	return c.store.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Close()
}

func accountStatusKey(organizationID uuid.UUID) string {
	return fmt.Sprintf(accountStatusKeyFormat, organizationID)
}
