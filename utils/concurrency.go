package utils

import (
	"math/rand"
	"sync"
	"time"
)

// WorkerPool manages a bounded pool of goroutines with optional rate limiting.
type WorkerPool struct {
	maxWorkers  int
	rateLimitMs int
	semaphore   chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	lastRequest time.Time
}

// NewWorkerPool creates a WorkerPool with the given concurrency and rate limit.
// A rateLimitMs of 0 disables rate limiting.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		maxWorkers:  maxWorkers,
		rateLimitMs: rateLimitMs,
		semaphore:   make(chan struct{}, maxWorkers),
		lastRequest: time.Now(),
	}
}

// Size returns the maximum number of concurrent jobs.
func (wp *WorkerPool) Size() int {
	return wp.maxWorkers
}

// Submit enqueues a job, blocking while the pool is full.
func (wp *WorkerPool) Submit(job func()) {
	wp.wg.Add(1)
	wp.semaphore <- struct{}{}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		wp.enforceRateLimit()
		job()
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) enforceRateLimit() {
	if wp.rateLimitMs <= 0 {
		return
	}
	wp.mu.Lock()
	defer wp.mu.Unlock()

	minInterval := time.Duration(wp.rateLimitMs) * time.Millisecond
	elapsed := time.Since(wp.lastRequest)
	if elapsed < minInterval {
		time.Sleep(minInterval - elapsed)
	}
	wp.lastRequest = time.Now()
}

// KeySet is a thread-safe set.
type KeySet[K comparable] struct {
	mu   sync.RWMutex
	seen map[K]struct{}
}

// NewKeySet creates an empty KeySet.
func NewKeySet[K comparable]() *KeySet[K] {
	return &KeySet[K]{seen: make(map[K]struct{})}
}

// Add returns true if the key was newly added, false if already present.
func (s *KeySet[K]) Add(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[k]; exists {
		return false
	}
	s.seen[k] = struct{}{}
	return true
}

// Contains returns true if the key is present.
func (s *KeySet[K]) Contains(k K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[k]
	return exists
}

// Size returns the number of unique keys tracked.
func (s *KeySet[K]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// DelayRange produces randomized pauses between requests so a worker does
// not hit the site at a fixed cadence.
type DelayRange struct {
	Min, Max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDelayRange creates a DelayRange seeded independently per worker.
func NewDelayRange(min, max time.Duration, seed int64) *DelayRange {
	if max < min {
		min, max = max, min
	}
	return &DelayRange{Min: min, Max: max, rng: rand.New(rand.NewSource(seed))}
}

// Next returns a delay uniformly drawn from [Min, Max].
func (d *DelayRange) Next() time.Duration {
	span := d.Max - d.Min
	if span <= 0 {
		return d.Min
	}
	d.mu.Lock()
	n := d.rng.Int63n(int64(span) + 1)
	d.mu.Unlock()
	return d.Min + time.Duration(n)
}
