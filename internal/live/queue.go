package live

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// queue is an unbounded FIFO with a single reader. Push never blocks.
type queue[T any] struct {
	mu     sync.Mutex
	items  deque.Deque[T]
	notify chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{notify: make(chan struct{}, 1)}
}

func (q *queue[T]) Push(v T) {
	q.mu.Lock()
	q.items.PushBack(v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Poll waits up to timeout for the next item. A false result is a timeout or a
// cancelled ctx, never an error.
func (q *queue[T]) Poll(ctx context.Context, timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			v := q.items.PopFront()
			q.mu.Unlock()
			return v, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-timer.C:
			var zero T
			return zero, false
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
