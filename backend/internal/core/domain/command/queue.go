package command

import "sync"

// Queue is the FIFO of commands owned by one dynamic body.
type Queue struct {
	mu    sync.Mutex
	items []Command
}

// Enqueue appends c.
func (q *Queue) Enqueue(c Command) {
	q.mu.Lock()
	q.items = append(q.items, c)
	q.mu.Unlock()
}

// Drain removes and returns every queued command in enqueue order.
func (q *Queue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Discard drops every queued command unapplied and returns how many there
// were.
func (q *Queue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
