package api

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
)

// cancelTimeout bounds the CancelTransaction sent after a timed-out call.
const cancelTimeout = 2 * time.Second

// transactionPrefix marks transactions started through the HTTP API.
const transactionPrefix = "api-"

// newTransactionID returns a fresh transaction id for an API call.
func newTransactionID() string {
	return transactionPrefix + uuid.NewString()
}

// outcome is one completion result.
type outcome[T any] struct {
	value T
	err   error
}

// await starts an adapter call and blocks until its completion fires or
// ctx ends.
//
// If ctx ends first and transactionID is set, the transaction is cancelled
// so the engine stops working on it; the late completion lands in the
// buffered channel and is discarded.
func await[T any](ctx context.Context, ctrl Controller, transactionID string, start func(done ble.Completion[T]) error) (T, error) {
	var zero T
	results := make(chan outcome[T], 1)

	if err := start(func(v T, err error) {
		results <- outcome[T]{value: v, err: err}
	}); err != nil {
		return zero, err
	}

	select {
	case r := <-results:
		return r.value, r.err
	case <-ctx.Done():
		if transactionID != "" {
			cancelCtx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
			//nolint:errcheck // Best-effort; the caller already has its answer
			ctrl.CancelTransaction(cancelCtx, transactionID)
			cancel()
		}
		return zero, ctx.Err()
	}
}

// callContext derives the context an awaited call runs under.
func (s *Server) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.callTimeout)
}
