// internal/repository/redis.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/config"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/models"
)

type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(cfg *config.Config) *RedisRepository {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return &RedisRepository{
		client: rdb,
	}
}

// Client exposes the underlying client for the session locker.
func (r *RedisRepository) Client() *redis.Client {
	return r.client
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// GetChannelOwner returns the cached owner id; found is false on a miss.
func (r *RedisRepository) GetChannelOwner(ctx context.Context, channelArn string) (string, bool, error) {
	key := fmt.Sprintf("channel-owner:%s", channelArn)

	ownerID, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get channel owner: %w", err)
	}

	return ownerID, true, nil
}

func (r *RedisRepository) SetChannelOwner(ctx context.Context, channelArn, ownerID string, expiration time.Duration) error {
	key := fmt.Sprintf("channel-owner:%s", channelArn)

	if err := r.client.Set(ctx, key, ownerID, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set channel owner: %w", err)
	}

	return nil
}

// OwnerCache is the cache side of CachedDirectory.
type OwnerCache interface {
	GetChannelOwner(ctx context.Context, channelArn string) (string, bool, error)
	SetChannelOwner(ctx context.Context, channelArn, ownerID string, expiration time.Duration) error
}

// CachedDirectory is a read-through cache in front of a ChannelDirectory.
// Cache failures fall through to the directory.
type CachedDirectory struct {
	next   ChannelDirectory
	cache  OwnerCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedDirectory(next ChannelDirectory, cache OwnerCache, ttl time.Duration, logger *zap.Logger) *CachedDirectory {
	return &CachedDirectory{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (d *CachedDirectory) FindOwnerByChannel(ctx context.Context, channelArn string) (*models.ChannelOwner, error) {
	ownerID, found, err := d.cache.GetChannelOwner(ctx, channelArn)
	if err != nil {
		d.logger.Warn("owner cache read failed", zap.String("channel_arn", channelArn), zap.Error(err))
	}
	if found {
		return &models.ChannelOwner{ID: ownerID, ChannelArn: channelArn}, nil
	}

	owner, err := d.next.FindOwnerByChannel(ctx, channelArn)
	if err != nil {
		return nil, err
	}

	if err := d.cache.SetChannelOwner(ctx, channelArn, owner.ID, d.ttl); err != nil {
		d.logger.Warn("owner cache write failed", zap.String("channel_arn", channelArn), zap.Error(err))
	}
	return owner, nil
}
