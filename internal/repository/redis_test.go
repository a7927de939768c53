package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/models"
)

type fakeOwnerCache struct {
	owners  map[string]string
	getErr  error
	setErr  error
	sets    int
	lastTTL time.Duration
}

func (c *fakeOwnerCache) GetChannelOwner(ctx context.Context, channelArn string) (string, bool, error) {
	if c.getErr != nil {
		return "", false, c.getErr
	}
	id, ok := c.owners[channelArn]
	return id, ok, nil
}

func (c *fakeOwnerCache) SetChannelOwner(ctx context.Context, channelArn, ownerID string, expiration time.Duration) error {
	c.sets++
	c.lastTTL = expiration
	if c.setErr != nil {
		return c.setErr
	}
	c.owners[channelArn] = ownerID
	return nil
}

type countingDirectory struct {
	owners map[string]string
	calls  int
}

func (d *countingDirectory) FindOwnerByChannel(ctx context.Context, channelArn string) (*models.ChannelOwner, error) {
	d.calls++
	id, ok := d.owners[channelArn]
	if !ok {
		return nil, ErrOwnerNotFound
	}
	return &models.ChannelOwner{ID: id, ChannelArn: channelArn}, nil
}

func TestCachedDirectoryReadThrough(t *testing.T) {
	ctx := context.Background()
	next := &countingDirectory{owners: map[string]string{channel: "user-1"}}
	cache := &fakeOwnerCache{owners: map[string]string{}}
	dir := NewCachedDirectory(next, cache, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		owner, err := dir.FindOwnerByChannel(ctx, channel)
		if err != nil || owner.ID != "user-1" {
			t.Fatalf("lookup #%d = %+v, %v", i+1, owner, err)
		}
	}

	if next.calls != 1 {
		t.Errorf("directory calls = %d, want 1", next.calls)
	}
	if cache.sets != 1 || cache.lastTTL != time.Minute {
		t.Errorf("cache sets = %d ttl = %s", cache.sets, cache.lastTTL)
	}
}

func TestCachedDirectoryNotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	next := &countingDirectory{owners: map[string]string{}}
	cache := &fakeOwnerCache{owners: map[string]string{}}
	dir := NewCachedDirectory(next, cache, time.Minute, zap.NewNop())

	if _, err := dir.FindOwnerByChannel(ctx, channel); !errors.Is(err, ErrOwnerNotFound) {
		t.Fatalf("err = %v, want ErrOwnerNotFound", err)
	}
	if cache.sets != 0 {
		t.Errorf("cache sets = %d, want 0", cache.sets)
	}
}

func TestCachedDirectoryCacheFailuresFallThrough(t *testing.T) {
	ctx := context.Background()
	next := &countingDirectory{owners: map[string]string{channel: "user-1"}}
	cache := &fakeOwnerCache{
		owners: map[string]string{},
		getErr: errors.New("connection refused"),
		setErr: errors.New("connection refused"),
	}
	dir := NewCachedDirectory(next, cache, time.Minute, zap.NewNop())

	owner, err := dir.FindOwnerByChannel(ctx, channel)
	if err != nil || owner.ID != "user-1" {
		t.Fatalf("FindOwnerByChannel = %+v, %v", owner, err)
	}
	if next.calls != 1 {
		t.Errorf("directory calls = %d, want 1", next.calls)
	}
}
