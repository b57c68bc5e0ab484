package journal

import "sync"

// Queue is an unbounded FIFO handing work from producers to one consumer.
//
// The consumer peeks with Next, processes the item, then removes it with Pop,
// so Flush returns only after every item pushed before the call has been fully
// processed, not merely dequeued.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	empty    *sync.Cond
	items    []T
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.notEmpty = sync.NewCond(&q.mu)
	q.empty = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. It never blocks on the consumer.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.notEmpty.Signal()
}

// Next blocks until the queue is non-empty and returns the front item
// without removing it.
func (q *Queue[T]) Next() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.notEmpty.Wait()
	}
	return q.items[0]
}

// Pop removes the front item. Only the consumer calls Pop.
func (q *Queue[T]) Pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
		q.empty.Broadcast()
	}
}

// Flush blocks until the queue has been drained.
func (q *Queue[T]) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) > 0 {
		q.empty.Wait()
	}
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
