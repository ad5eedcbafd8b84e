package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Locker hands out the deployment lease for a key. Acquire never blocks
// waiting for a holder: a busy key yields ErrDeploymentInProgress.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LockKey is the lease key for a working tree. Every deployment into the
// same directory shares one lease, whatever repository or branch the
// delivery names.
func LockKey(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return "worktree:" + filepath.Clean(dir)
}

// LockManager manages per-key deployment locks within one process.
//
// This uses a two-level locking strategy:
// 1. The outer mutex (mu) protects the locks map itself from concurrent access
// 2. Each key has its own mutex for actual deployment locking
//
// Different working trees deploy concurrently; the same working tree
// never does.
type LockManager struct {
	mu    sync.Mutex             // Protects the locks map
	locks map[string]*sync.Mutex // Per-key locks
}

// NewLockManager creates a new lock manager
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// TryLock attempts to acquire the lock for key without blocking.
// Returns false if another deployment holds it.
func (lm *LockManager) TryLock(key string) bool {
	lm.mu.Lock()
	lock, exists := lm.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		lm.locks[key] = lock
	}
	lm.mu.Unlock()

	return lock.TryLock()
}

// Unlock releases the lock for key.
//
// It is safe to call this even if the lock doesn't exist (no-op).
func (lm *LockManager) Unlock(key string) {
	lm.mu.Lock()
	lock := lm.locks[key]
	lm.mu.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}

// Acquire implements Locker.
func (lm *LockManager) Acquire(_ context.Context, key string) (func(), error) {
	if !lm.TryLock(key) {
		return nil, ErrDeploymentInProgress
	}
	var once sync.Once
	return func() { once.Do(func() { lm.Unlock(key) }) }, nil
}

// releaseScript deletes the lease only while it still holds our token, so
// a lease that expired and was taken over is left alone.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every hookbox process using the same
// redis. Leases expire after TTL so a crashed holder cannot block deploys
// forever.
type RedisLocker struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisLocker connects to redis and checks it is reachable.
func NewRedisLocker(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return newRedisLocker(client, ttl, logger), nil
}

func newRedisLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client: client,
		logger: logger,
		prefix: "hookbox:deploy:",
		ttl:    ttl,
	}
}

// Acquire implements Locker with SET NX PX and a random token.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrDeploymentInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Error("redis lease release failed", "key", key, "error", err)
			}
		})
	}, nil
}

// Close closes the redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
