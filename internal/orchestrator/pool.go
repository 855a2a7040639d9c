package orchestrator

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds how many blocking actions run at once across all rounds
// of an engine.
type WorkerPool struct {
	size int64
	sem  *semaphore.Weighted
}

// NewWorkerPool creates a pool with size slots (minimum 1).
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{size: int64(size), sem: semaphore.NewWeighted(int64(size))}
}

// Size returns the number of slots.
func (p *WorkerPool) Size() int { return int(p.size) }

// Acquire waits for a free slot. The returned func gives it back and is
// safe to call more than once.
func (p *WorkerPool) Acquire(ctx context.Context) (func(), error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	// Acquire may win a race against a cancelled context.
	if err := ctx.Err(); err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return sync.OnceFunc(func() { p.sem.Release(1) }), nil
}

// ResourceLocks provides keyed mutual exclusion for tasks that declare
// Exclusive resources. Each key is a weighted semaphore of size one so that
// waiting respects context cancellation.
type ResourceLocks struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewResourceLocks creates an empty lock table.
func NewResourceLocks() *ResourceLocks {
	return &ResourceLocks{locks: make(map[string]*semaphore.Weighted)}
}

func (r *ResourceLocks) get(key string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[key]
	if !ok {
		l = semaphore.NewWeighted(1)
		r.locks[key] = l
	}
	return l
}

// LockAll acquires every key in sorted order so that two tasks sharing keys
// can never wait on each other. On failure nothing stays held.
// The returned func releases the keys in reverse order.
func (r *ResourceLocks) LockAll(ctx context.Context, keys []string) (func(), error) {
	sorted := dedupSorted(keys)

	held := make([]*semaphore.Weighted, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}

	for _, key := range sorted {
		l := r.get(key)
		if err := l.Acquire(ctx, 1); err != nil {
			release()
			return nil, err
		}
		held = append(held, l)
	}
	return release, nil
}

func dedupSorted(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	out := sorted[:1]
	for _, k := range sorted[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}
