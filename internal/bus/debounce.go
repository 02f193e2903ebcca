package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounceDelay is the quiet window used when none is configured.
const DefaultDebounceDelay = 1200 * time.Millisecond

// DebounceOptions configures a Debouncer.
type DebounceOptions[T any] struct {
	// Delay is the fixed window length. The first entry of a window sets the
	// deadline; later entries in the same window do not extend it.
	Delay time.Duration

	// Key groups entries. An empty key bypasses buffering.
	Key func(T) string

	// ShouldDebounce lets callers force immediate delivery (nil = always buffer).
	ShouldDebounce func(T) bool

	// OnFlush receives the buffered entries for one key in arrival order.
	OnFlush func(ctx context.Context, key string, items []T) error

	// OnError is called when OnFlush fails or panics. Failed flushes are not retried.
	OnError func(key string, items []T, err error)
}

type debounceBuffer[T any] struct {
	items []T
	timer *time.Timer
}

// Debouncer coalesces bursts of entries sharing a key into one flush per window.
// Safe for concurrent use. Flushes for one key run one after another in
// arrival order; flushes for different keys run independently.
type Debouncer[T any] struct {
	opts DebounceOptions[T]

	mu      sync.Mutex
	buffers map[string]*debounceBuffer[T]
	tails   map[string]chan struct{} // last scheduled flush per key
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDebouncer creates a debouncer. OnFlush and Key are required.
func NewDebouncer[T any](opts DebounceOptions[T]) *Debouncer[T] {
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer[T]{
		opts:    opts,
		buffers: make(map[string]*debounceBuffer[T]),
		tails:   make(map[string]chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue buffers item under its key. The first entry for a key starts the
// window timer; when it fires the whole buffer is flushed.
func (d *Debouncer[T]) Enqueue(item T) {
	key := d.opts.Key(item)
	immediate := key == "" || d.opts.Delay == 0 ||
		(d.opts.ShouldDebounce != nil && !d.opts.ShouldDebounce(item))

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	if immediate {
		// Anything already buffered for this key goes out first.
		if buf, ok := d.buffers[key]; ok && key != "" {
			buf.timer.Stop()
			delete(d.buffers, key)
			d.dispatchLocked(key, buf.items)
		}
		d.dispatchLocked(key, []T{item})
		d.mu.Unlock()
		return
	}

	buf, ok := d.buffers[key]
	if !ok {
		nb := &debounceBuffer[T]{}
		nb.timer = time.AfterFunc(d.opts.Delay, func() { d.flushBuffer(key, nb) })
		d.buffers[key] = nb
		buf = nb
	}
	buf.items = append(buf.items, item)
	d.mu.Unlock()
}

// FlushKey immediately flushes the buffer for key, if any.
func (d *Debouncer[T]) FlushKey(key string) {
	d.flushBuffer(key, nil)
}

// flushBuffer flushes key's buffer. When want is set, only that exact buffer
// is flushed, so a late timer never cuts a newer window short.
func (d *Debouncer[T]) flushBuffer(key string, want *debounceBuffer[T]) {
	d.mu.Lock()
	buf, ok := d.buffers[key]
	if !ok || (want != nil && buf != want) {
		d.mu.Unlock()
		return
	}
	buf.timer.Stop()
	delete(d.buffers, key)
	d.dispatchLocked(key, buf.items)
	d.mu.Unlock()
}

// Pending returns the number of keys with buffered entries.
func (d *Debouncer[T]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// Stop flushes every pending buffer, waits for in-flight flushes, and
// rejects further entries.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for key, buf := range d.buffers {
		buf.timer.Stop()
		d.dispatchLocked(key, buf.items)
	}
	d.buffers = make(map[string]*debounceBuffer[T])
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
}

// dispatchLocked schedules a flush behind the previous one for key. Caller
// holds d.mu, so flushes are chained in the order they were scheduled.
func (d *Debouncer[T]) dispatchLocked(key string, items []T) {
	if len(items) == 0 {
		return
	}
	prev := d.tails[key]
	done := make(chan struct{})
	d.tails[key] = done

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			close(done)
			d.mu.Lock()
			if d.tails[key] == done {
				delete(d.tails, key)
			}
			d.mu.Unlock()
		}()
		if prev != nil {
			<-prev
		}
		if err := d.runFlush(key, items); err != nil {
			if d.opts.OnError != nil {
				d.opts.OnError(key, items, err)
				return
			}
			slog.Warn("debounce flush failed", "key", key, "items", len(items), "error", err)
		}
	}()
}

func (d *Debouncer[T]) runFlush(key string, items []T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("debounce flush panic: %v", r)
		}
	}()
	return d.opts.OnFlush(d.ctx, key, items)
}
