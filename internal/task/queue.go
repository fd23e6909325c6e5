package task

const asserts = true

// Waiter is a thread blocked on a monitor. It is woken by closing its
// channel, which happens at most once.
type Waiter struct {
	Next   *Waiter
	Owner  uint32
	wake   chan struct{}
	queued bool
	woken  bool
}

// NewWaiter returns a waiter for the thread with the given id.
func NewWaiter(owner uint32) *Waiter {
	return &Waiter{Owner: owner, wake: make(chan struct{})}
}

// Wake returns the channel closed when the waiter is signalled.
func (w *Waiter) Wake() <-chan struct{} {
	return w.wake
}

// Woken reports whether the waiter has been signalled.
func (w *Waiter) Woken() bool {
	return w.woken
}

// Queue is a FIFO container of waiters.
// The zero value is an empty queue. Queue is not safe for concurrent use; the
// owner of the queue serializes access with its own lock.
type Queue struct {
	head, tail *Waiter
	len        int
}

// Push a waiter onto the queue.
func (q *Queue) Push(w *Waiter) {
	if asserts && (w.Next != nil || w.queued) {
		panic("task: pushing a waiter that is already queued")
	}
	if q.tail != nil {
		q.tail.Next = w
	}
	q.tail = w
	w.Next = nil
	w.queued = true
	if q.head == nil {
		q.head = w
	}
	q.len++
}

// Pop a waiter off of the queue.
func (q *Queue) Pop() *Waiter {
	w := q.head
	if w == nil {
		return nil
	}
	q.head = w.Next
	if q.tail == w {
		q.tail = nil
	}
	w.Next = nil
	w.queued = false
	q.len--
	return w
}

// Remove takes w out of the queue. It reports false if w was not queued.
func (q *Queue) Remove(w *Waiter) bool {
	if !w.queued {
		return false
	}
	var prev *Waiter
	for cur := q.head; cur != nil; prev, cur = cur, cur.Next {
		if cur != w {
			continue
		}
		if prev == nil {
			q.head = cur.Next
		} else {
			prev.Next = cur.Next
		}
		if q.tail == cur {
			q.tail = prev
		}
		cur.Next = nil
		cur.queued = false
		q.len--
		return true
	}
	if asserts {
		panic("task: queued waiter not found in queue")
	}
	return false
}

// WakeOne pops the first waiter and signals it. It returns nil when the
// queue is empty.
func (q *Queue) WakeOne() *Waiter {
	w := q.Pop()
	if w != nil {
		w.woken = true
		close(w.wake)
	}
	return w
}

// Empty checks if the queue is empty.
func (q *Queue) Empty() bool {
	return q.head == nil
}

// Len returns the number of queued waiters.
func (q *Queue) Len() int {
	return q.len
}
