package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

func newJob(id string) *manga.Job {
	return manga.NewJob(id, "u1", nil, []manga.ChapterRef{{ID: "c1"}}, time.Now())
}

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	result := make(chan *manga.Job, 1)
	errCh := make(chan error, 1)

	go func() {
		job, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- job
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	if err := q.Enqueue(context.Background(), newJob("job-1")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.ID != "job-1" {
			t.Fatalf("expected job-1, got %s", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueIsFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for i := range 5 {
		if err := q.Enqueue(context.Background(), newJob(fmt.Sprintf("job-%d", i))); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if q.Len() != 5 {
		t.Fatalf("expected 5 waiting, got %d", q.Len())
	}
	for i := range 5 {
		job, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if want := fmt.Sprintf("job-%d", i); job.ID != want {
			t.Fatalf("expected %s, got %s", want, job.ID)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestQueueWakesEveryConsumer(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	const consumers = 4
	var wg sync.WaitGroup
	got := make(chan string, consumers)
	for range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			job, err := q.Dequeue(ctx)
			if err != nil {
				return
			}
			got <- job.ID
		}()
	}
	time.Sleep(10 * time.Millisecond)
	for i := range consumers {
		if err := q.Enqueue(context.Background(), newJob(fmt.Sprintf("job-%d", i))); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	wg.Wait()
	close(got)
	seen := map[string]bool{}
	for id := range got {
		seen[id] = true
	}
	if len(seen) != consumers {
		t.Fatalf("expected %d distinct jobs, got %v", consumers, seen)
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}
}

func TestQueueCloseDrainsThenFails(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	if err := q.Enqueue(context.Background(), newJob("left")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	q.Close()
	q.Close()

	if err := q.Enqueue(context.Background(), newJob("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	job, err := q.Dequeue(context.Background())
	if err != nil || job.ID != "left" {
		t.Fatalf("expected left job, got %v %v", job, err)
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after drain, got %v", err)
	}
}

func TestQueueDequeueAfterCancelLeavesJobs(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(context.Background(), newJob(id)); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Close()

	if _, err := q.Dequeue(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := q.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
}
