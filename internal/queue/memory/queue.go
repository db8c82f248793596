// Package memory provides the bounded in-process chunk queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/results-harvester/internal/results"
)

// ErrClosed is returned by Enqueue after Close, and by Dequeue once the
// queue is closed and drained.
var ErrClosed = results.ErrQueueClosed

// Queue is a bounded FIFO of chunk tasks. The task channel is never closed,
// so a producer blocked on a full queue is released by Close instead of
// panicking.
type Queue struct {
	ch   chan results.ChunkTask
	done chan struct{}
	once sync.Once
}

// NewQueue constructs a queue holding at most capacity pending tasks.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:   make(chan results.ChunkTask, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a task, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, task results.ChunkTask) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task. Tasks buffered before Close are still handed
// out; after that Dequeue reports ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (results.ChunkTask, error) {
	select {
	case <-ctx.Done():
		return results.ChunkTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task := <-q.ch:
		return task, nil
	case <-q.done:
		select {
		case task := <-q.ch:
			return task, nil
		default:
			return results.ChunkTask{}, ErrClosed
		}
	}
}

// Len reports the number of buffered tasks.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. It is safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
