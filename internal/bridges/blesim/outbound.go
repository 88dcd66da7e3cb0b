package blesim

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
)

// Channel carries envelopes to the simulation engine and delivers the
// engine's replies and publish events back to the adapter.
type Channel interface {
	// Send emits one envelope. A non-nil error means the engine will never
	// see the call.
	Send(ctx context.Context, env Envelope) error

	// Listen starts routing inbound traffic to in.
	Listen(in Inbound) error
}

// Inbound receives raw traffic from a Channel. *Adapter implements it.
type Inbound interface {
	HandleReply(payload []byte) error
	HandleEvent(event EventType, payload []byte) error
}

// Direction of a recorded message relative to the adapter.
type Direction string

// Traffic directions.
const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Traffic kinds.
const (
	KindCall  = "call"
	KindReply = "reply"
	KindEvent = "event"
)

// TrafficEntry is one message crossing the channel.
type TrafficEntry struct {
	Direction     Direction
	Kind          string
	Operation     string
	CorrelationID string
	DeviceID      string
	Payload       []byte
	Timestamp     time.Time
}

// Recorder persists channel traffic for later inspection.
// Implementations must not block for long; they are called from the loop.
type Recorder interface {
	Record(entry TrafficEntry)
}

// Call outcomes reported to Metrics.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics receives per-call and per-event measurements.
type Metrics interface {
	RecordCall(op Operation, outcome string, code ble.ErrorCode, latency time.Duration)
	RecordEvent(event EventType)
}

// call sends one operation to the engine and arranges for exactly one of
// onSuccess/onError to run on the loop when the reply arrives.
//
// Must be called from the loop goroutine.
func call[T any](a *Adapter, op opDescriptor[T], args map[string]any, onSuccess func(T), onError func(*ble.Error)) {
	if a.stopping {
		onError(errManagerDestroyed())
		return
	}

	start := time.Now()
	ctx, span := a.tracer.Start(context.Background(), "blesim."+string(op.name),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("blesim.operation", string(op.name))),
	)

	id := a.correlations.Register(func(reply Reply) {
		defer span.End()

		if bleErr := reply.failure(); bleErr != nil {
			a.finishCall(span, op.name, start, bleErr)
			onError(bleErr)
			return
		}

		var value T
		if op.decode != nil {
			v, err := op.decode(reply.Value)
			if err != nil {
				bleErr := ble.NewError(ble.UnknownError, fmt.Sprintf("decoding %s reply: %v", op.name, err))
				a.finishCall(span, op.name, start, bleErr)
				onError(bleErr)
				return
			}
			value = v
		}

		a.finishCall(span, op.name, start, nil)
		onSuccess(value)
	})
	span.SetAttributes(attribute.String("blesim.correlation_id", id))

	env := Envelope{Operation: op.name, CorrelationID: id, Arguments: args}
	a.recordEnvelope(env, args)
	a.callsSent.Add(1)
	a.logDebug("call sent", "operation", op.name, "correlation_id", id)

	if err := a.channel.Send(ctx, env); err != nil {
		a.logError("failed to send call", err)
		failure := ble.NewError(ble.UnknownError, fmt.Sprintf("sending %s: %v", op.name, err))
		if rerr := a.correlations.Resolve(id, localReply(id, failure)); rerr != nil {
			a.fatal(rerr)
		}
	}
}

// finishCall closes the bookkeeping of one resolved call.
func (a *Adapter) finishCall(span trace.Span, op Operation, start time.Time, bleErr *ble.Error) {
	latency := time.Since(start)
	if bleErr != nil {
		span.SetAttributes(attribute.Int("blesim.error_code", int(bleErr.Code)))
		span.RecordError(bleErr)
		span.SetStatus(codes.Error, bleErr.Error())
		if a.metrics != nil {
			a.metrics.RecordCall(op, OutcomeError, bleErr.Code, latency)
		}
		a.logDebug("call failed", "operation", op, "code", bleErr.Code.String(), "latency", latency)
		return
	}
	span.SetStatus(codes.Ok, "")
	if a.metrics != nil {
		a.metrics.RecordCall(op, OutcomeSuccess, 0, latency)
	}
	a.logDebug("call completed", "operation", op, "latency", latency)
}

func (a *Adapter) recordEnvelope(env Envelope, args map[string]any) {
	if a.recorder == nil {
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		a.logError("failed to encode envelope for recorder", err)
		return
	}
	deviceID, _ := args[argIdentifier].(string)
	a.recorder.Record(TrafficEntry{
		Direction:     DirectionOutbound,
		Kind:          KindCall,
		Operation:     string(env.Operation),
		CorrelationID: env.CorrelationID,
		DeviceID:      deviceID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	})
}

func (a *Adapter) recordInbound(kind, operation, correlationID, deviceID string, payload []byte) {
	if a.recorder == nil {
		return
	}
	a.recorder.Record(TrafficEntry{
		Direction:     DirectionInbound,
		Kind:          kind,
		Operation:     operation,
		CorrelationID: correlationID,
		DeviceID:      deviceID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	})
}

func errManagerDestroyed() *ble.Error {
	return ble.NewError(ble.BluetoothManagerDestroyed, "adapter stopped")
}

// completion adapts a caller Completion into loop-side continuations that
// hand the outcome to the dispatcher. A nil done discards the outcome.
func completion[T any](a *Adapter, done ble.Completion[T]) (func(T), func(*ble.Error)) {
	onSuccess := func(v T) {
		if done != nil {
			a.dispatcher.enqueue(func() { done(v, nil) })
		}
	}
	onError := func(e *ble.Error) {
		if done != nil {
			var zero T
			a.dispatcher.enqueue(func() { done(zero, e) })
		}
	}
	return onSuccess, onError
}
