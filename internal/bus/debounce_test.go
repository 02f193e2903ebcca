package bus

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	mu      sync.Mutex
	flushes map[string][][]string
	ch      chan string
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{flushes: make(map[string][][]string), ch: make(chan string, 16)}
}

func (r *flushRecorder) onFlush(_ context.Context, key string, items []string) error {
	r.mu.Lock()
	r.flushes[key] = append(r.flushes[key], append([]string(nil), items...))
	r.mu.Unlock()
	r.ch <- key
	return nil
}

func (r *flushRecorder) get(key string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes[key]
}

func (r *flushRecorder) wait(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-r.ch:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for flush")
		}
	}
}

// keyOf uses the prefix before '/' as the key.
func keyOf(s string) string {
	for i := range len(s) {
		if s[i] == '/' {
			return s[:i]
		}
	}
	return s
}

func TestDebouncerCoalescesBurstInOrder(t *testing.T) {
	rec := newFlushRecorder()
	d := NewDebouncer(DebounceOptions[string]{
		Delay:   40 * time.Millisecond,
		Key:     keyOf,
		OnFlush: rec.onFlush,
	})
	defer d.Stop()

	d.Enqueue("a/1")
	d.Enqueue("a/2")
	d.Enqueue("b/1")
	d.Enqueue("a/3")

	rec.wait(t, 2)
	assert.Equal(t, [][]string{{"a/1", "a/2", "a/3"}}, rec.get("a"))
	assert.Equal(t, [][]string{{"b/1"}}, rec.get("b"))
	assert.Equal(t, 0, d.Pending())
}

func TestDebouncerFixedWindow(t *testing.T) {
	rec := newFlushRecorder()
	d := NewDebouncer(DebounceOptions[string]{
		Delay:   80 * time.Millisecond,
		Key:     keyOf,
		OnFlush: rec.onFlush,
	})
	defer d.Stop()

	start := time.Now()
	d.Enqueue("k/1")
	time.Sleep(50 * time.Millisecond)
	d.Enqueue("k/2") // must not push the deadline out
	rec.wait(t, 1)

	assert.Less(t, time.Since(start), 125*time.Millisecond)
	assert.Equal(t, [][]string{{"k/1", "k/2"}}, rec.get("k"))
}

func TestDebouncerFlushErrorIsolatedPerKey(t *testing.T) {
	var mu sync.Mutex
	var failed []string
	flushed := make(chan string, 4)

	d := NewDebouncer(DebounceOptions[string]{
		Delay: 20 * time.Millisecond,
		Key:   keyOf,
		OnFlush: func(_ context.Context, key string, _ []string) error {
			defer func() { flushed <- key }()
			if key == "bad" {
				return errors.New("boom")
			}
			if key == "panic" {
				panic("kaboom")
			}
			return nil
		},
		OnError: func(key string, _ []string, _ error) {
			mu.Lock()
			failed = append(failed, key)
			mu.Unlock()
		},
	})

	d.Enqueue("bad/1")
	d.Enqueue("panic/1")
	d.Enqueue("good/1")

	seen := map[string]bool{}
	for range 3 {
		select {
		case k := <-flushed:
			seen[k] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}
	d.Stop()

	assert.True(t, seen["good"])
	mu.Lock()
	assert.ElementsMatch(t, []string{"bad", "panic"}, failed)
	mu.Unlock()
}

func TestDebouncerImmediateFlushesPendingFirst(t *testing.T) {
	rec := newFlushRecorder()
	d := NewDebouncer(DebounceOptions[string]{
		Delay:          time.Hour,
		Key:            keyOf,
		ShouldDebounce: func(s string) bool { return s != "k/now" },
		OnFlush:        rec.onFlush,
	})
	defer d.Stop()

	d.Enqueue("k/1")
	d.Enqueue("k/now")
	rec.wait(t, 2)

	got := rec.get("k")
	require.Len(t, got, 2)
	assert.Equal(t, [][]string{{"k/1"}, {"k/now"}}, got)
}

func TestDebouncerImmediateWaitsForSlowPendingFlush(t *testing.T) {
	var mu sync.Mutex
	var order []string
	d := NewDebouncer(DebounceOptions[string]{
		Delay:          time.Hour,
		Key:            keyOf,
		ShouldDebounce: func(s string) bool { return s != "k/now" },
		OnFlush: func(_ context.Context, _ string, items []string) error {
			if len(items) > 1 {
				time.Sleep(20 * time.Millisecond)
			}
			mu.Lock()
			order = append(order, items[len(items)-1])
			mu.Unlock()
			return nil
		},
	})

	d.Enqueue("k/1")
	d.Enqueue("k/2")
	d.Enqueue("k/now")
	d.Stop()

	assert.Equal(t, []string{"k/2", "k/now"}, order)
}

func TestDebouncerZeroDelayKeepsArrivalOrder(t *testing.T) {
	var mu sync.Mutex
	got := map[string][]string{}
	d := NewDebouncer(DebounceOptions[string]{
		Key: keyOf,
		OnFlush: func(_ context.Context, key string, items []string) error {
			mu.Lock()
			got[key] = append(got[key], items...)
			mu.Unlock()
			return nil
		},
	})

	var want []string
	for i := range 20 {
		item := "k/" + strconv.Itoa(i)
		want = append(want, item)
		d.Enqueue(item)
		d.Enqueue("other/" + strconv.Itoa(i))
	}
	d.Stop()

	assert.Equal(t, want, got["k"])
	assert.Len(t, got["other"], 20)
}

func TestDebouncerFailedFlushDoesNotBlockKey(t *testing.T) {
	var mu sync.Mutex
	var delivered []string
	d := NewDebouncer(DebounceOptions[string]{
		Key: keyOf,
		OnFlush: func(_ context.Context, _ string, items []string) error {
			if items[0] == "k/panic" {
				panic("kaboom")
			}
			mu.Lock()
			delivered = append(delivered, items...)
			mu.Unlock()
			return nil
		},
		OnError: func(string, []string, error) {},
	})

	d.Enqueue("k/panic")
	d.Enqueue("k/after")
	d.Stop()

	assert.Equal(t, []string{"k/after"}, delivered)
}

func TestDebouncerStopFlushesPending(t *testing.T) {
	rec := newFlushRecorder()
	d := NewDebouncer(DebounceOptions[string]{
		Delay:   time.Hour,
		Key:     keyOf,
		OnFlush: rec.onFlush,
	})

	d.Enqueue("x/1")
	d.Enqueue("x/2")
	d.Stop()

	assert.Equal(t, [][]string{{"x/1", "x/2"}}, rec.get("x"))

	d.Enqueue("x/3") // ignored after stop
	assert.Equal(t, 0, d.Pending())
}

func TestDedupeCache(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewDedupeCache(time.Minute, 2)
	c.now = func() time.Time { return now }

	assert.False(t, c.IsDuplicate("a"))
	assert.True(t, c.IsDuplicate("a"))
	assert.False(t, c.IsDuplicate(""))

	now = now.Add(2 * time.Minute)
	assert.False(t, c.IsDuplicate("a"), "expired keys are forgotten")

	assert.False(t, c.IsDuplicate("b"))
	assert.False(t, c.IsDuplicate("c")) // evicts "a"
	assert.False(t, c.IsDuplicate("a"))
}
