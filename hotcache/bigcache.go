package hotcache

import (
	"context"
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"
)

// BigCache is an alternate Provider for deployments that prefer a single
// global expiry window over Ristretto's per-entry cost-based eviction.
type BigCache struct {
	c *bc.BigCache
}

type BigCacheConfig struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int
}

func NewBigCache(cfg BigCacheConfig) (*BigCache, error) {
	if cfg.LifeWindow <= 0 {
		return nil, errors.New("hotcache: LifeWindow must be positive")
	}
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &BigCache{c: c}, nil
}

func (p *BigCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	return b, err == nil, err
}

func (p *BigCache) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	return true, p.c.Set(key, value)
}

func (p *BigCache) Del(_ context.Context, key string) error {
	return p.c.Delete(key)
}

func (p *BigCache) Close(_ context.Context) error {
	return p.c.Close()
}
