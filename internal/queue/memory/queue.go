// Package memory provides the in-process FIFO job queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

// ErrClosed is returned once the queue has been closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO of jobs. Enqueue never blocks; Dequeue waits for
// an item or for the context to end.
type Queue struct {
	mu     sync.Mutex
	items  []*manga.Job
	signal chan struct{}
	done   chan struct{}
	closed bool
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends a job.
func (q *Queue) Enqueue(_ context.Context, job *manga.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, job)
	q.mu.Unlock()
	q.wake()
	return nil
}

// Dequeue pops the oldest job. Once ctx has ended it returns an error without
// popping, so shutdown leaves waiting jobs in place.
func (q *Queue) Dequeue(ctx context.Context) (*manga.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dequeue canceled: %w", err)
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				q.wake()
			}
			return job, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.done:
		case <-q.signal:
		}
	}
}

// Len reports how many jobs are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting jobs. Waiting jobs can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
