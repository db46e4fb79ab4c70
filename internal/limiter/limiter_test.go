package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiter_AcquireRelease(t *testing.T) {
	l := New(2)
	ctx := context.Background()

	if err := l.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if l.Held() != 2 {
		t.Errorf("Held() = %d, want 2", l.Held())
	}

	l.Release(1)
	l.Release(1)
	if l.Held() != 0 {
		t.Errorf("Held() = %d, want 0", l.Held())
	}
}

func TestLimiter_RejectsOversizedWeight(t *testing.T) {
	l := New(2)

	err := l.Acquire(context.Background(), 3)
	if !errors.Is(err, ErrWeightExceedsCapacity) {
		t.Fatalf("Acquire() error = %v, want ErrWeightExceedsCapacity", err)
	}
	if l.Held() != 0 {
		t.Errorf("Held() = %d, want 0 after rejection", l.Held())
	}
}

func TestLimiter_AcquireHonorsContext(t *testing.T) {
	l := New(1)
	if err := l.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want deadline exceeded", err)
	}
	if l.Held() != 1 {
		t.Errorf("Held() = %d, want 1", l.Held())
	}
}

func TestLimiter_NeverExceedsCapacity(t *testing.T) {
	const capacity = 2
	l := New(capacity)

	var (
		wg      sync.WaitGroup
		current atomic.Int64
		peak    atomic.Int64
	)

	for i := range 20 {
		weight := int64(1)
		if i%5 == 0 {
			weight = 2
		}
		wg.Add(1)
		go func(weight int64) {
			defer wg.Done()
			err := l.Do(context.Background(), weight, func(context.Context) error {
				now := current.Add(weight)
				for {
					old := peak.Load()
					if now <= old || peak.CompareAndSwap(old, now) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				current.Add(-weight)
				return nil
			})
			if err != nil {
				t.Errorf("Do() error = %v", err)
			}
		}(weight)
	}
	wg.Wait()

	if peak.Load() > capacity {
		t.Errorf("peak held weight = %d, want <= %d", peak.Load(), capacity)
	}
	if l.Held() != 0 {
		t.Errorf("Held() = %d after all work finished, want 0", l.Held())
	}
}

func TestLimiter_LargeWaiterIsNotStarved(t *testing.T) {
	l := New(2)
	ctx := context.Background()

	if err := l.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	granted := make(chan struct{})
	go func() {
		if err := l.Acquire(ctx, 2); err == nil {
			close(granted)
		}
	}()

	// Let the weight-2 waiter queue up, then show a later weight-1 request waits behind it.
	time.Sleep(20 * time.Millisecond)
	small, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if err := l.Acquire(small, 1); err == nil {
		t.Fatal("weight-1 request overtook the queued weight-2 request")
	}

	l.Release(1)
	select {
	case <-granted:
	case <-time.After(time.Second):
		t.Fatal("weight-2 request was never granted")
	}
	l.Release(2)
}

func TestLimiter_DoReleasesOnError(t *testing.T) {
	l := New(1)
	boom := errors.New("boom")

	err := l.Do(context.Background(), 1, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Do() error = %v, want boom", err)
	}
	if l.Held() != 0 {
		t.Errorf("Held() = %d, want 0", l.Held())
	}
}

func TestNew_ClampsCapacity(t *testing.T) {
	if got := New(0).Capacity(); got != 1 {
		t.Errorf("Capacity() = %d, want 1", got)
	}
}
