package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryLockerSerializes(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(ctx, "neg_1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	if len(l.locks) != 0 {
		t.Errorf("lock table not cleaned up: %d entries", len(l.locks))
	}
}

func TestMemoryLockerContextCancel(t *testing.T) {
	l := NewMemoryLocker()
	release, err := l.Lock(context.Background(), "neg_1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "neg_1"); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("err = %v, want ErrNotAcquired", err)
	}

	other, err := l.Lock(context.Background(), "neg_2")
	if err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
	other()
}

// TestRedisLocker_Integration requires a running Redis and skips otherwise.
func TestRedisLocker_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	defer client.Close()

	l := NewRedisLocker(client, 5*time.Second)
	release, err := l.Lock(ctx, "test-neg")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(short, "test-neg"); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("second Lock err = %v, want ErrNotAcquired", err)
	}

	release()
	again, err := l.Lock(ctx, "test-neg")
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	again()
}
