package deployment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockKey(t *testing.T) {
	if got := LockKey("/srv/shop"); got != "worktree:/srv/shop" {
		t.Errorf("LockKey() = %q, expected worktree:/srv/shop", got)
	}
	if LockKey("/srv/shop/") != LockKey("/srv/other/../shop") {
		t.Error("Expected equivalent paths to share a key")
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := LockKey("shop"), "worktree:"+filepath.Join(wd, "shop"); got != want {
		t.Errorf("LockKey() = %q, expected %q", got, want)
	}
}

func TestLockManager_BasicLocking(t *testing.T) {
	lm := NewLockManager()
	key := LockKey("/srv/shop")

	if !lm.TryLock(key) {
		t.Fatal("First TryLock should succeed")
	}

	if lm.TryLock(key) {
		t.Error("Second TryLock on same key should fail")
	}

	lm.Unlock(key)

	if !lm.TryLock(key) {
		t.Error("TryLock should succeed after unlock")
	}

	lm.Unlock(key)
}

func TestLockManager_WorkTreesAreIndependent(t *testing.T) {
	lm := NewLockManager()

	keys := []string{
		LockKey("/srv/shop"),
		LockKey("/srv/shop-staging"),
		LockKey("/srv/blog"),
	}
	for _, key := range keys {
		if !lm.TryLock(key) {
			t.Errorf("%s lock should succeed", key)
		}
	}

	if lm.TryLock(keys[0]) {
		t.Errorf("Second lock on %s should fail", keys[0])
	}

	for _, key := range keys {
		lm.Unlock(key)
	}
}

func TestLockManager_UnlockNonExistent(t *testing.T) {
	lm := NewLockManager()

	// Unlocking a non-existent lock should not panic
	lm.Unlock("worktree:/nonexistent")

	if !lm.TryLock("worktree:/nonexistent") {
		t.Error("Should be able to lock after unlocking non-existent")
	}

	lm.Unlock("worktree:/nonexistent")
}

func TestLockManager_Acquire(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	release, err := lm.Acquire(ctx, "worktree:/srv/shop")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	if _, err := lm.Acquire(ctx, "worktree:/srv/shop"); !errors.Is(err, ErrDeploymentInProgress) {
		t.Errorf("second Acquire() error = %v, expected ErrDeploymentInProgress", err)
	}

	release()
	release() // second call is a no-op

	release, err = lm.Acquire(ctx, "worktree:/srv/shop")
	if err != nil {
		t.Fatalf("Acquire() after release error: %v", err)
	}
	release()
}

func TestLockManager_ConcurrentLockAttempts(t *testing.T) {
	lm := NewLockManager()

	key := LockKey("/srv/shop")
	var holders, maxHolders, successCount, failureCount int32

	const goroutineCount = 100
	var wg sync.WaitGroup
	wg.Add(goroutineCount)

	for i := 0; i < goroutineCount; i++ {
		go func() {
			defer wg.Done()

			if lm.TryLock(key) {
				atomic.AddInt32(&successCount, 1)
				n := atomic.AddInt32(&holders, 1)
				for {
					m := atomic.LoadInt32(&maxHolders)
					if n <= m || atomic.CompareAndSwapInt32(&maxHolders, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&holders, -1)
				lm.Unlock(key)
			} else {
				atomic.AddInt32(&failureCount, 1)
			}
		}()
	}

	wg.Wait()

	if maxHolders != 1 {
		t.Errorf("Expected at most one concurrent holder, saw %d", maxHolders)
	}

	if successCount == 0 {
		t.Error("Expected at least one lock attempt to succeed")
	}

	if int(successCount+failureCount) != goroutineCount {
		t.Errorf("Success + failure count (%d + %d) should equal goroutine count (%d)",
			successCount, failureCount, goroutineCount)
	}
}

func TestLockManager_DeadlockPrevention(t *testing.T) {
	lm := NewLockManager()

	const keyCount = 10
	var wg sync.WaitGroup

	for i := 0; i < keyCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			key := LockKey(fmt.Sprintf("/srv/repo-%d", id))
			for j := 0; j < 100; j++ {
				if lm.TryLock(key) {
					lm.Unlock(key)
				}
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Test timed out - potential deadlock detected")
	}
}

// TestRedisLocker runs against a real redis when HOOKBOX_TEST_REDIS_ADDR is set.
func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("HOOKBOX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HOOKBOX_TEST_REDIS_ADDR not set")
	}

	locker, err := NewRedisLocker(addr, "", 0, time.Minute, nil)
	if err != nil {
		t.Fatalf("NewRedisLocker() error: %v", err)
	}
	defer locker.Close()

	ctx := context.Background()
	key := LockKey(fmt.Sprintf("/srv/test-%d", time.Now().UnixNano()))

	release, err := locker.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	if _, err := locker.Acquire(ctx, key); !errors.Is(err, ErrDeploymentInProgress) {
		t.Errorf("second Acquire() error = %v, expected ErrDeploymentInProgress", err)
	}

	release()

	release, err = locker.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire() after release error: %v", err)
	}
	release()
}

func BenchmarkLockManager_TryLock(b *testing.B) {
	lm := NewLockManager()
	key := "worktree:/srv/shop"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lm.TryLock(key)
		lm.Unlock(key)
	}
}
