package dataset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tsawler/go-srgan/tensor"
)

// ErrStopped is returned by a Prefetcher that is not running.
var ErrStopped = errors.New("prefetcher is not running")

type batch struct {
	hr, lr *tensor.Tensor
}

// PrefetchConfig holds configuration for a Prefetcher.
type PrefetchConfig struct {
	BatchSize     int // Size of each prefetched training batch
	PrefetchDepth int // Number of batches to prefetch (default: 3)
	// Workers is the number of background loaders (default: 1). A single
	// worker keeps batches in the order the source produces them.
	Workers int
}

// Prefetcher loads training batches from another Manager in the background,
// so decoding the next batch overlaps with the current training step.
// Testing batches and batches of any other size bypass the queue.
type Prefetcher struct {
	source    Manager
	batchSize int
	workers   int

	batches chan batch

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	running   bool
	// failed holds the first source error. It cancels ctx, so every later
	// training request fails with it instead of waiting on a dead queue.
	failed    error
	produced  uint64
	delivered uint64
}

// NewPrefetcher wraps source. Call Start before loading.
func NewPrefetcher(source Manager, config PrefetchConfig) (*Prefetcher, error) {
	if source == nil {
		return nil, fmt.Errorf("data source cannot be nil")
	}
	if err := checkBatch(config.BatchSize); err != nil {
		return nil, err
	}
	if config.PrefetchDepth <= 0 {
		config.PrefetchDepth = 3
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Prefetcher{
		source:    source,
		batchSize: config.BatchSize,
		workers:   config.Workers,
		batches:   make(chan batch, config.PrefetchDepth),
	}, nil
}

// Start begins background loading.
func (p *Prefetcher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("prefetcher is already running")
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.failed = nil
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.running = true
	return nil
}

// Stop cancels the workers, waits for them and discards queued batches. A
// stopped Prefetcher can be started again.
func (p *Prefetcher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	for {
		select {
		case <-p.batches:
		default:
			return
		}
	}
}

// LoadData returns the next prefetched batch for training requests of the
// configured size and forwards everything else to the source.
func (p *Prefetcher) LoadData(batchSize int, isTesting bool) (hr, lr *tensor.Tensor, err error) {
	if isTesting || batchSize != p.batchSize {
		return p.source.LoadData(batchSize, isTesting)
	}

	p.mu.RLock()
	running, ctx, failed := p.running, p.ctx, p.failed
	p.mu.RUnlock()
	if !running {
		return nil, nil, ErrStopped
	}
	if failed != nil {
		return nil, nil, fmt.Errorf("prefetch: %w", failed)
	}

	select {
	case b := <-p.batches:
		p.mu.Lock()
		p.delivered++
		p.mu.Unlock()
		return b.hr, b.lr, nil
	case <-ctx.Done():
		if err := p.Err(); err != nil {
			return nil, nil, fmt.Errorf("prefetch: %w", err)
		}
		return nil, nil, ErrStopped
	}
}

// Err returns the source error that stopped the workers, if any.
func (p *Prefetcher) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.failed
}

func (p *Prefetcher) fail(err error) {
	p.mu.Lock()
	if p.failed == nil {
		p.failed = err
	}
	cancel := p.cancel
	p.mu.Unlock()
	cancel()
}

// worker loads batches until the context is cancelled or the source fails.
func (p *Prefetcher) worker(id int) {
	defer p.wg.Done()

	for {
		if p.ctx.Err() != nil {
			return
		}
		hr, lr, err := p.source.LoadData(p.batchSize, false)
		if err != nil {
			p.fail(fmt.Errorf("worker %d: %w", id, err))
			return
		}

		p.mu.Lock()
		p.produced++
		p.mu.Unlock()

		select {
		case p.batches <- batch{hr: hr, lr: lr}:
		case <-p.ctx.Done():
			return
		}
	}
}

// PrefetchStats provides statistics about a Prefetcher.
type PrefetchStats struct {
	Running       bool
	Produced      uint64
	Delivered     uint64
	QueuedBatches int
	QueueCapacity int
	Workers       int
}

// Stats returns a snapshot of the prefetcher counters.
func (p *Prefetcher) Stats() PrefetchStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PrefetchStats{
		Running:       p.running,
		Produced:      p.produced,
		Delivered:     p.delivered,
		QueuedBatches: len(p.batches),
		QueueCapacity: cap(p.batches),
		Workers:       p.workers,
	}
}
