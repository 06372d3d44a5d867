// Package memory is the default in-process queue.
package memory

import (
	"context"
	"sync"
)

type MemoryQueue struct {
	mu     sync.Mutex
	ids    []string
	signal chan struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		signal: make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	q.ids = append(q.ids, jobID)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	// Retried jobs keep their original submission position at the head.
	q.ids = append([]string{jobID}, q.ids...)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.ids) > 0 {
			id := q.ids[0]
			q.ids = q.ids[1:]
			remaining := len(q.ids)
			q.mu.Unlock()
			if remaining > 0 {
				q.wake()
			}
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

func (q *MemoryQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) ShutDown(ctx context.Context) {}
