package blesim

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// ReplyHandler consumes the reply for one correlated call.
type ReplyHandler func(Reply)

// CorrelationRegistry pairs outbound calls with their eventual replies.
//
// Ids are the decimal rendering of a counter that starts at 0 and never
// resets for the lifetime of the registry, so an id is never reused.
//
// Thread Safety: All methods are safe for concurrent use. Handlers are
// invoked outside the registry lock.
type CorrelationRegistry struct {
	mu      sync.Mutex
	next    uint64
	pending map[string]ReplyHandler
}

// NewCorrelationRegistry creates an empty registry.
func NewCorrelationRegistry() *CorrelationRegistry {
	return &CorrelationRegistry{
		pending: make(map[string]ReplyHandler),
	}
}

// Register stores handler under a freshly allocated id and returns the id.
func (r *CorrelationRegistry) Register(handler ReplyHandler) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := strconv.FormatUint(r.next, 10)
	r.next++
	r.pending[id] = handler
	return id
}

// Resolve removes the handler registered under id and invokes it with reply.
//
// Returns:
//   - error: ErrUnknownCorrelationID (wrapped with the id) if id was never
//     issued or was already resolved
func (r *CorrelationRegistry) Resolve(id string, reply Reply) error {
	r.mu.Lock()
	handler, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCorrelationID, id)
	}
	if handler != nil {
		handler(reply)
	}
	return nil
}

// Pending returns the number of unresolved calls.
func (r *CorrelationRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Drain removes every pending handler and returns them ordered by issue
// order. Used at shutdown to fail outstanding calls exactly once.
func (r *CorrelationRegistry) Drain() []ReplyHandler {
	r.mu.Lock()
	drained := r.pending
	r.pending = make(map[string]ReplyHandler)
	r.mu.Unlock()

	ids := make([]uint64, 0, len(drained))
	for id := range drained {
		n, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]ReplyHandler, 0, len(ids))
	for _, n := range ids {
		out = append(out, drained[strconv.FormatUint(n, 10)])
	}
	return out
}
