// README: Locker tests; Redis cases run only when FREIGHT_TEST_REDIS_ADDR is set.
package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestLocal_MutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, NewLocal())
}

func TestLocal_TimesOut(t *testing.T) {
	exerciseTimeout(t, NewLocal())
}

func TestLocal_DistinctKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	releaseA, err := l.Acquire(ctx, "a", time.Second)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer releaseA()
	releaseB, err := l.Acquire(ctx, "b", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire b should not wait on a: %v", err)
	}
	releaseB()
}

func TestLocal_ReleaseTwiceIsSafe(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), "k", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	release()
	if len(l.keys) != 0 {
		t.Fatalf("expected key entry to be dropped, got %d", len(l.keys))
	}
}

func TestLocal_ContextCancel(t *testing.T) {
	l := NewLocal()
	release, _ := l.Acquire(context.Background(), "k", time.Second)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Acquire(ctx, "k", time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRedis_MutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, setupRedis(t))
}

func TestRedis_TimesOut(t *testing.T) {
	exerciseTimeout(t, setupRedis(t))
}

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()
	key := RequestKey("mutex-" + t.Name())

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, key, 5*time.Second)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected at most 1 holder, saw %d", maxInside)
	}
}

func exerciseTimeout(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()
	key := RequestKey("timeout-" + t.Name())
	release, err := l.Acquire(ctx, key, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = l.Acquire(ctx, key, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("wait exceeded bound: %s", elapsed)
	}
}

func setupRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("FREIGHT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FREIGHT_TEST_REDIS_ADDR not set; skipping Redis lock tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	return NewRedis(client, 5*time.Second, zap.NewNop())
}
