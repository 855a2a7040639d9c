package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestWorkerPool_Bound verifies no more than Size functions run at once.
func TestWorkerPool_Bound(t *testing.T) {
	pool := NewWorkerPool(2)
	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := pool.Acquire(context.Background())
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			defer release()

			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent runs, saw %d", peak.Load())
	}
}

// TestWorkerPool_CancelledWhileWaiting verifies a queued caller gives up on cancellation.
func TestWorkerPool_CancelledWhileWaiting(t *testing.T) {
	pool := NewWorkerPool(1)
	held, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer held()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	release, err := pool.Acquire(ctx)
	if err == nil {
		release()
		t.Fatal("expected context error")
	}
}

// TestWorkerPool_ReleaseIsIdempotent verifies a doubled release frees one slot only.
func TestWorkerPool_ReleaseIsIdempotent(t *testing.T) {
	pool := NewWorkerPool(1)
	release, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	release()
	release()

	held, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer held()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := pool.Acquire(ctx); err == nil {
		t.Fatal("expected the only slot to be taken")
	}
}

// TestNewWorkerPool_MinimumSize verifies non-positive sizes fall back to one slot.
func TestNewWorkerPool_MinimumSize(t *testing.T) {
	if NewWorkerPool(0).Size() != 1 {
		t.Error("expected size 1")
	}
}

// TestResourceLocks_SameKeyBlocks verifies tasks sharing a key serialize.
func TestResourceLocks_SameKeyBlocks(t *testing.T) {
	locks := NewResourceLocks()
	order := make(chan int, 2)

	release, err := locks.LockAll(context.Background(), []string{"report.md"})
	if err != nil {
		t.Fatalf("LockAll: %v", err)
	}

	go func() {
		r, err := locks.LockAll(context.Background(), []string{"report.md"})
		if err != nil {
			t.Errorf("LockAll: %v", err)
			return
		}
		order <- 2
		r()
	}()

	time.Sleep(10 * time.Millisecond)
	order <- 1
	release()

	if first, second := <-order, <-order; first != 1 || second != 2 {
		t.Errorf("expected order [1, 2], got [%d, %d]", first, second)
	}
}

// TestResourceLocks_DifferentKeysConcurrent verifies disjoint keys don't block.
func TestResourceLocks_DifferentKeysConcurrent(t *testing.T) {
	locks := NewResourceLocks()

	ra, err := locks.LockAll(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("LockAll a: %v", err)
	}
	defer ra()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rb, err := locks.LockAll(ctx, []string{"b"})
	if err != nil {
		t.Fatalf("expected disjoint key to lock immediately, got %v", err)
	}
	rb()
}

// TestResourceLocks_FailureReleasesHeldKeys verifies a cancelled LockAll keeps nothing.
func TestResourceLocks_FailureReleasesHeldKeys(t *testing.T) {
	locks := NewResourceLocks()

	rb, err := locks.LockAll(context.Background(), []string{"b"})
	if err != nil {
		t.Fatalf("LockAll b: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locks.LockAll(ctx, []string{"b", "a", "a"}); err == nil {
		t.Fatal("expected timeout while b is held")
	}
	rb()

	// "a" must have been released by the failed call.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	ra, err := locks.LockAll(ctx2, []string{"a", "b"})
	if err != nil {
		t.Fatalf("expected both keys free, got %v", err)
	}
	ra()
}

func TestDedupSorted(t *testing.T) {
	got := dedupSorted([]string{"c", "a", "c", "b", "a"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if dedupSorted(nil) != nil {
		t.Error("expected nil for no keys")
	}
}
