package blesim

import (
	"sync"
	"testing"
	"time"
)

func TestDispatcher_RunsInOrder(t *testing.T) {
	d := newDispatcher(nil)
	go d.run()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		n := i
		d.enqueue(func() {
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
		})
	}
	d.stop()

	if len(got) != 100 {
		t.Fatalf("ran %d callbacks, want 100", len(got))
	}
	for i, n := range got {
		if n != i {
			t.Fatalf("callback %d ran at position %d", n, i)
		}
	}
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	var panics []error
	d := newDispatcher(func(err error) { panics = append(panics, err) })
	go d.run()

	ran := false
	d.enqueue(func() { panic("boom") })
	d.enqueue(func() { ran = true })
	d.stop()

	if len(panics) != 1 {
		t.Fatalf("onPanic called %d times, want 1", len(panics))
	}
	if !ran {
		t.Error("callback after panic did not run")
	}
}

func TestDispatcher_CallbackMayEnqueue(t *testing.T) {
	d := newDispatcher(nil)
	go d.run()

	done := make(chan struct{})
	d.enqueue(func() {
		d.enqueue(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested callback did not run")
	}
	d.stop()
}

func TestDispatcher_StopIdempotent(t *testing.T) {
	d := newDispatcher(nil)
	go d.run()
	d.stop()
	d.stop()
	// Nil callbacks are ignored.
	d.enqueue(nil)
}
