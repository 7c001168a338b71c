package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BatchInserter is the interface used by Collector to persist events.
// It exists to allow testing without a real database.
type BatchInserter interface {
	BatchInsert(ctx context.Context, events []Event) error
}

// Hooks receives collector instrumentation callbacks. All fields are
// optional; nil fields are skipped.
type Hooks struct {
	Event      func()
	BufferSize func(n int)
	Flush      func(ok bool)
}

// Collector buffers events in memory and periodically flushes them to the
// sink in batches. It is safe for concurrent use.
type Collector struct {
	sink          BatchInserter
	buffer        []Event
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}
	hooks         Hooks
}

// SetHooks installs instrumentation callbacks. Call before Start.
func (c *Collector) SetHooks(h Hooks) {
	c.hooks = h
}

// NewCollector creates a Collector that flushes to the given sink when the
// buffer reaches batchSize or every flushInterval, whichever comes first.
func NewCollector(sink BatchInserter, batchSize int, flushInterval time.Duration) *Collector {
	return &Collector{
		sink:          sink,
		buffer:        make([]Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
}

// Start begins a background goroutine that flushes buffered events on a
// timer. It blocks until Stop is called or the context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return
		case <-c.done:
			c.flush()
			return
		}
	}
}

// Record adds an event to the buffer, stamping it if the caller didn't.
// If the buffer reaches batchSize, a flush is triggered immediately.
func (c *Collector) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, ev)
	buffered := len(c.buffer)
	shouldFlush := buffered >= c.batchSize
	c.mu.Unlock()

	if c.hooks.Event != nil {
		c.hooks.Event()
	}
	if c.hooks.BufferSize != nil {
		c.hooks.BufferSize(buffered)
	}

	if shouldFlush {
		c.flush()
	}
}

// flush drains all buffered events and writes them to the sink. It logs
// errors rather than returning them so callers are not blocked.
func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]Event, 0, c.batchSize)
	c.mu.Unlock()

	if c.hooks.BufferSize != nil {
		c.hooks.BufferSize(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := c.sink.BatchInsert(ctx, batch)
	if err != nil {
		slog.Error("failed to flush audit events", "count", len(batch), "error", err)
	}
	if c.hooks.Flush != nil {
		c.hooks.Flush(err == nil)
	}
}

// Stop signals the background goroutine to exit and performs a final flush.
func (c *Collector) Stop() {
	close(c.done)
}
