package pubsub

import (
	"errors"
	"sync"
)

type Event interface {
}

type Publisher[E Event] interface {
	PublishEvent(*E) error
	AddSubscriber(Subscriber[E])
}

type Subscriber[E Event] interface {
	ConsumeEvent(*E) error
}

// SimplePublisher delivers each event to every subscriber synchronously, in the order the
// subscribers were added. A failing subscriber does not stop delivery to the others; all
// errors are joined and returned to the caller.
type SimplePublisher[E Event] struct {
	mu          sync.RWMutex
	subscribers []Subscriber[E]
}

func NewSimplePublisher[E Event]() *SimplePublisher[E] {
	return &SimplePublisher[E]{
		subscribers: make([]Subscriber[E], 0),
	}
}

func (p *SimplePublisher[E]) PublishEvent(e *E) error {
	if e == nil {
		return errors.New("cannot publish a nil event")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	var errs []error
	for _, s := range p.subscribers {
		if err := s.ConsumeEvent(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *SimplePublisher[E]) AddSubscriber(s Subscriber[E]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, s)
}

// NopPublisher drops every event.
type NopPublisher[E Event] struct{}

func (NopPublisher[E]) PublishEvent(*E) error       { return nil }
func (NopPublisher[E]) AddSubscriber(Subscriber[E]) {}
