package memory

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/stellarlinkco/aiteam/internal/llm"
)

const (
	defaultQueueSize      = 64
	defaultExtractTimeout = 60 * time.Second
)

// Consolidator folds completed exchanges into the Store. Submit never blocks
// the caller; a single worker goroutine drains the queue.
type Consolidator struct {
	store     *Store
	extractor *Extractor
	timeout   time.Duration
	onFact    LogFunc

	queue chan Exchange

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type ConsolidatorOption func(*Consolidator)

// WithExtractTimeout bounds each extraction call.
func WithExtractTimeout(d time.Duration) ConsolidatorOption {
	return func(c *Consolidator) { c.timeout = d }
}

// WithQueueSize sets the buffered queue length.
func WithQueueSize(n int) ConsolidatorOption {
	return func(c *Consolidator) {
		if n > 0 {
			c.queue = make(chan Exchange, n)
		}
	}
}

// WithFactLog registers a callback for every learned fact, in addition to
// the per-exchange Log.
func WithFactLog(fn LogFunc) ConsolidatorOption {
	return func(c *Consolidator) { c.onFact = fn }
}

// NewConsolidator starts the worker. Close must be called to stop it.
func NewConsolidator(store *Store, backend llm.Backend, opts ...ConsolidatorOption) *Consolidator {
	c := &Consolidator{
		store:     store,
		extractor: NewExtractor(backend),
		timeout:   defaultExtractTimeout,
		queue:     make(chan Exchange, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for ex := range c.queue {
			c.Consolidate(context.Background(), ex)
		}
	}()
	return c
}

// Submit hands ex to the worker and returns immediately. When the queue is
// full the exchange is consolidated on its own goroutine instead.
func (c *Consolidator) Submit(ex Exchange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		log.Printf("[consolidator] closed, dropping %s exchange", ex.Workflow)
		return
	}
	select {
	case c.queue <- ex:
	default:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.Consolidate(context.Background(), ex)
		}()
	}
}

// Consolidate records ex and merges whatever the extraction model learned
// from it. The ledger entry and the counter are written even when extraction
// fails, and the store is saved in every case. It returns the new facts.
func (c *Consolidator) Consolidate(ctx context.Context, ex Exchange) []string {
	c.store.recordExchange(ex)

	var added []string
	res, ok, err := c.extract(ctx, ex)
	switch {
	case err != nil:
		log.Printf("[consolidator] skipped knowledge update for %s: %v", ex.Workflow, err)
	case !ok:
		log.Printf("[consolidator] skipped knowledge update for %s: unparseable extraction", ex.Workflow)
	default:
		added = c.store.apply(res)
	}

	if err := c.store.Save(ctx); err != nil {
		log.Printf("[consolidator] save failed: %v", err)
	}

	for _, f := range added {
		if ex.Log != nil {
			ex.Log(f)
		}
		if c.onFact != nil {
			c.onFact(f)
		}
	}
	return added
}

func (c *Consolidator) extract(ctx context.Context, ex Exchange) (res ExtractionResult, ok bool, err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[consolidator] extraction panic: %v", r)
			res, ok, err = ExtractionResult{}, false, nil
		}
	}()
	return c.extractor.Extract(ctx, ex)
}

// Close stops accepting exchanges and waits for queued ones to finish.
func (c *Consolidator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	c.wg.Wait()
}
