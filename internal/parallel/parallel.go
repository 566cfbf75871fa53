// Package parallel provides the worker pool the engine uses to split operator work.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	NumWorkers   int // Number of worker goroutines to use.
	MinChunkSize int // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	return Config{
		NumWorkers:   runtime.NumCPU(),
		MinChunkSize: 64, // Typical cache line aware chunk.
	}
}

// Pool is a fixed set of worker goroutines. A nil *Pool is valid and runs
// everything on the calling goroutine.
type Pool struct {
	cfg   Config
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts cfg.NumWorkers workers. NumWorkers <= 0 selects runtime.NumCPU().
func NewPool(cfg Config) *Pool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = runtime.NumCPU()
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = 1
	}

	p := &Pool{
		cfg:   cfg,
		tasks: make(chan func()),
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Workers returns the number of goroutines work is spread across.
func (p *Pool) Workers() int {
	if p == nil {
		return 1
	}
	return p.cfg.NumWorkers
}

// For executes f over [0, n) split into contiguous ranges.
// Falls back to sequential execution for a nil or closed pool, or when n is too small.
// Each index is visited by exactly one call, so per-index results are deterministic.
func (p *Pool) For(n int, f func(start, end int)) {
	if n <= 0 {
		return
	}
	if p == nil || n < 2*p.cfg.MinChunkSize || p.cfg.NumWorkers < 2 {
		f(0, n)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		f(0, n)
		return
	}

	chunkSize := max((n+p.cfg.NumWorkers-1)/p.cfg.NumWorkers, p.cfg.MinChunkSize)

	var wg sync.WaitGroup
	// The first chunk runs on the caller.
	for start := chunkSize; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		p.tasks <- func() {
			defer wg.Done()
			f(start, end)
		}
	}
	f(0, min(chunkSize, n))
	wg.Wait()
}

// Close stops the workers. It is safe to call more than once.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
