package registry

import (
	"sync"

	"github.com/toolhost-dev/toolhost/internal/schema"
)

// EventKind discriminates registry change notifications.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
)

// Event describes one registry change. Schema is nil for removals.
type Event struct {
	Kind   EventKind
	ID     string
	Schema *schema.CallSchema
}

// Subscription delivers registry events in the order the underlying
// changes occurred. Events queue without bounding registry mutations;
// a slow consumer delays only itself.
type Subscription struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	done   chan struct{}
	ch     chan Event
}

func newSubscription() *Subscription {
	s := &Subscription{
		done: make(chan struct{}),
		ch:   make(chan Event),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// Events is the ordered stream of registry changes. The channel closes
// when the subscription is cancelled or the registry shuts down.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Cancel stops delivery and closes the event channel. Queued events not
// yet consumed are dropped.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *Subscription) publish(ev Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- ev:
		case <-s.done:
			return
		}
	}
}
