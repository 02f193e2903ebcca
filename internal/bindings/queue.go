package bindings

import (
	"context"
	"sync"
)

// persistQueue runs jobs strictly one after another in enqueue order, so a
// later snapshot is never overwritten by a slower earlier write.
type persistQueue struct {
	mu   sync.Mutex
	tail chan struct{}
}

func (q *persistQueue) enqueue(job func()) {
	q.mu.Lock()
	prev := q.tail
	done := make(chan struct{})
	q.tail = done
	q.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		job()
	}()
}

// wait blocks until the job queued last (at call time) has finished.
func (q *persistQueue) wait(ctx context.Context) error {
	q.mu.Lock()
	tail := q.tail
	q.mu.Unlock()
	if tail == nil {
		return nil
	}
	select {
	case <-tail:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
