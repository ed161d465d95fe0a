package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNilClient is returned by NewRedis when no client is supplied.
var ErrNilClient = errors.New("modcache/store: nil redis client")

// Redis is a Backend for operators who want the global cache to live in a
// shared, persistent-disk-free store instead of the local filesystem.
// Atomicity here is per-key (redis SET is atomic) rather than rename-based,
// but gives the same observable guarantee: a reader never sees a torn
// write. ModTime is approximated with a companion "<path>:mtime" key since
// redis has no stat-like metadata of its own.
type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
	readOnly    bool
}

// RedisConfig configures a Redis-backed store.Backend.
type RedisConfig struct {
	Client      goredis.UniversalClient
	CloseClient bool // true only if this Backend exclusively owns the client
	ReadOnly    bool
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient, readOnly: cfg.ReadOnly}, nil
}

func (r *Redis) ReadOnly() bool { return r.readOnly }

func (r *Redis) Read(ctx context.Context, path string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, path).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("modcache/store: redis get %q: %w", path, err)
	}
	return b, nil
}

func (r *Redis) Exists(ctx context.Context, path string) (bool, error) {
	n, err := r.rdb.Exists(ctx, path).Result()
	if err != nil {
		return false, fmt.Errorf("modcache/store: redis exists %q: %w", path, err)
	}
	return n > 0, nil
}

func (r *Redis) Write(ctx context.Context, path string, value []byte, _ uint32) error {
	if r.readOnly {
		return nil
	}
	if err := r.rdb.Set(ctx, path, value, 0).Err(); err != nil {
		return fmt.Errorf("modcache/store: redis set %q: %w", path, err)
	}
	return r.rdb.Set(ctx, path+":mtime", time.Now().Unix(), 0).Err()
}

func (r *Redis) ModTime(ctx context.Context, path string) (int64, error) {
	n, err := r.rdb.Get(ctx, path+":mtime").Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("modcache/store: redis mtime %q: %w", path, err)
	}
	return n, nil
}

// Close releases the underlying client only when this Backend owns it.
func (r *Redis) Close(context.Context) error {
	if r.closeClient {
		if err := r.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
