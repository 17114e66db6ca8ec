package engine

import (
	"context"
	"sync"
)

// ChannelQueue is an in-process bounded queue. Enqueue blocks while the
// buffer is full.
type ChannelQueue struct {
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewChannelQueue creates a queue holding at most capacity job ids.
func NewChannelQueue(capacity int) *ChannelQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChannelQueue{
		ch:   make(chan string, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue implements Queue.
func (q *ChannelQueue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- jobID:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue implements Queue.
func (q *ChannelQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-q.done:
		return "", ErrQueueClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len implements Queue.
func (q *ChannelQueue) Len(_ context.Context) (int, error) {
	return len(q.ch), nil
}

// Close implements Queue.
func (q *ChannelQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
