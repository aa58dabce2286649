package doc

import "sync"

// notifier delivers events to observers one at a time in the order they
// were queued. An event queued while a delivery is running, including one
// queued from inside an observer, is delivered by the running loop after
// the current event, so observers never re-enter each other.
type notifier[T any] struct {
	mu        sync.Mutex
	observers map[int]func(T)
	order     []int
	next      int
	queue     []T
	running   bool
}

func (n *notifier[T]) observe(fn func(T)) (cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.observers == nil {
		n.observers = make(map[int]func(T))
	}
	id := n.next
	n.next++
	n.observers[id] = fn
	n.order = append(n.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.observers, id)
			for i, o := range n.order {
				if o == id {
					n.order = append(n.order[:i], n.order[i+1:]...)
					break
				}
			}
		})
	}
}

// enqueue adds ev to the delivery queue. Callers that must preserve commit
// order enqueue while still holding their own lock, then call drain.
func (n *notifier[T]) enqueue(ev T) {
	n.mu.Lock()
	n.queue = append(n.queue, ev)
	n.mu.Unlock()
}

// drain delivers queued events unless another goroutine (or an outer frame
// of this one) is already doing so.
func (n *notifier[T]) drain() {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	n.running = true
	for len(n.queue) > 0 {
		ev := n.queue[0]
		n.queue = n.queue[1:]
		fns := make([]func(T), 0, len(n.order))
		for _, id := range n.order {
			fns = append(fns, n.observers[id])
		}
		n.mu.Unlock()
		for _, fn := range fns {
			fn(ev)
		}
		n.mu.Lock()
	}
	n.running = false
	n.mu.Unlock()
}

func (n *notifier[T]) publish(ev T) {
	n.enqueue(ev)
	n.drain()
}
