// Package taskqueue runs keyed background operations on a bounded pool with at
// most one running operation per key.
package taskqueue

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the pool capacity when none is configured.
const DefaultWorkers = 6

// Op is a unit of background work.
type Op func(ctx context.Context) (any, error)

type task struct {
	done   chan struct{}
	result any
	err    error
}

// Registry tracks running operations by key. Submissions beyond the pool
// capacity wait for a free worker instead of being rejected.
type Registry struct {
	mu      sync.Mutex
	running map[string]*task
	sem     *semaphore.Weighted
	ctx     context.Context
	wg      sync.WaitGroup
}

// New returns a registry whose operations run under ctx with the given pool size.
func New(ctx context.Context, workers int) *Registry {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Registry{
		running: make(map[string]*task),
		sem:     semaphore.NewWeighted(int64(workers)),
		ctx:     ctx,
	}
}

// Submit starts op under key without blocking. It reports false, and does
// nothing, when key already has an operation in flight.
func (r *Registry) Submit(key string, op Op) bool {
	r.mu.Lock()
	if _, busy := r.running[key]; busy {
		r.mu.Unlock()
		slog.Debug("task already running, submission ignored", "key", key)
		return false
	}
	t := &task{done: make(chan struct{})}
	r.running[key] = t
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(key, t, op)
	return true
}

func (r *Registry) run(key string, t *task, op Op) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.running, key)
		r.mu.Unlock()
		close(t.done)
	}()

	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		t.err = err
		slog.Error("task not started", "key", key, "error", err)
		return
	}
	defer r.sem.Release(1)

	t.result, t.err = op(r.ctx)
	if t.err != nil {
		slog.Error("task failed", "key", key, "error", t.err)
	}
}

// IsRunning reports whether key has an operation queued or in flight.
func (r *Registry) IsRunning(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[key]
	return ok
}

// Await blocks until key's operation finishes and returns its outcome. An
// unknown key returns (nil, nil) immediately.
func (r *Registry) Await(ctx context.Context, key string) (any, error) {
	r.mu.Lock()
	t, ok := r.running[key]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListRunning returns the tracked keys in sorted order.
func (r *Registry) ListRunning() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.running))
	for k := range r.running {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Wait blocks until every submitted operation has finished.
func (r *Registry) Wait() {
	r.wg.Wait()
}
