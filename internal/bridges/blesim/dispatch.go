package blesim

import (
	"fmt"
	"sync"
)

// dispatcher runs caller continuations and event callbacks on a dedicated
// goroutine, in the order the adapter loop scheduled them.
//
// The queue is unbounded so the loop never blocks on a slow callback, and
// callbacks may call back into the adapter (including the synchronous
// accessors) without deadlocking the loop.
type dispatcher struct {
	mu       sync.Mutex
	queue    []func()
	signal   chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	onPanic  func(error)
}

func newDispatcher(onPanic func(error)) *dispatcher {
	return &dispatcher{
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		onPanic: onPanic,
	}
}

// enqueue schedules fn. It never blocks.
func (d *dispatcher) enqueue(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// run processes the queue until stop is called and the queue is empty.
func (d *dispatcher) run() {
	defer close(d.stopped)

	closing := false
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, fn := range batch {
			d.invoke(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closing {
			return
		}

		select {
		case <-d.signal:
		case <-d.done:
			closing = true
		}
	}
}

// stop waits for every queued callback to run, then ends the goroutine.
// Must not be called from a callback.
func (d *dispatcher) stop() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
	<-d.stopped
}

// invoke runs one callback, recovering from panics so one broken caller
// cannot take down every other continuation.
func (d *dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil && d.onPanic != nil {
			d.onPanic(fmt.Errorf("panic in adapter callback: %v", r))
		}
	}()
	fn()
}
