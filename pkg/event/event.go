package event

import (
	"sync"
	"time"
)

type Type int

const (
	Started Type = iota
	Progressed
	Succeeded
	Failed
)

func (t Type) String() string {
	switch t {
	case Started:
		return "started"
	case Progressed:
		return "progressed"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Event is emitted at every milestone of one transfer.
type Event struct {
	Type       Type
	Repository string
	URL        string
	// File is the destination in the local repository.
	File string
	// Size is -1 when the remote did not announce it.
	Size        int64
	Transferred int64
	Elapsed     time.Duration
	Err         error
}

type Listener interface {
	OnEvent(e Event)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(e Event)

func (f ListenerFunc) OnEvent(e Event) {
	f(e)
}

const bufferSize = 256

// Dispatcher delivers events to listeners on a single goroutine, in emission order.
// With no listeners it does nothing.
type Dispatcher struct {
	listeners []Listener
	ch        chan Event
	done      chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(listeners ...Listener) *Dispatcher {
	d := &Dispatcher{listeners: listeners}
	if len(listeners) == 0 {
		return d
	}
	d.ch = make(chan Event, bufferSize)
	d.done = make(chan struct{})
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for e := range d.ch {
		for _, l := range d.listeners {
			l.OnEvent(e)
		}
	}
}

// Emit queues e. It is safe to call from any goroutine, also after Close.
func (d *Dispatcher) Emit(e Event) {
	if d == nil || d.ch == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	d.ch <- e
}

// Close waits until every queued event has been delivered.
func (d *Dispatcher) Close() {
	if d == nil || d.ch == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()
	<-d.done
}
