package blesim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
)

// defaultInboxSize is the number of posted operations the loop buffers
// before callers block.
const defaultInboxSize = 256

// tracerName identifies spans emitted by this package.
const tracerName = "github.com/nerrad567/gray-logic-blemulator/internal/bridges/blesim"

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds the collaborators of an Adapter.
type Options struct {
	// Channel carries traffic to and from the simulation engine. Required.
	Channel Channel

	// Logger is an optional structured logger.
	Logger Logger

	// Recorder optionally persists every message crossing the channel.
	Recorder Recorder

	// Metrics optionally receives per-call and per-event measurements.
	Metrics Metrics

	// TracerProvider supplies the tracer for per-call spans.
	// Default: the global otel provider.
	TracerProvider trace.TracerProvider

	// Observer, if set, receives every publish event after it is applied.
	// It runs on the callback dispatcher and must not block.
	Observer func(AdapterEvent)

	// OnFatal, if set, receives protocol violations by the engine
	// (ErrUnknownCorrelationID, ErrNoSubscriberForDevice). It runs on the
	// callback dispatcher and must not call Stop.
	OnFatal func(error)

	// InboxSize is the loop's buffer. Default: 256.
	InboxSize int
}

// scanSubscription is the active scan's callbacks.
type scanSubscription struct {
	onResult func(ble.ScanResult)
	onError  func(error)
}

// monitorRegistration is one live monitoring stream.
type monitorRegistration struct {
	seq     uint64
	onValue func(ble.Characteristic)
	onError func(error)
}

// Adapter is a ble.Adapter backed by a simulation engine.
//
// Every operation is marshalled onto a single loop goroutine which owns the
// device registry, the GATT caches and all subscriber maps. Continuations and
// event callbacks run on a second goroutine in the order the loop scheduled
// them.
//
// Thread Safety: All exported methods are safe for concurrent use.
type Adapter struct {
	channel  Channel
	recorder Recorder
	metrics  Metrics
	tracer   trace.Tracer
	observer func(AdapterEvent)
	onFatal  func(error)

	correlations *CorrelationRegistry
	dispatcher   *dispatcher

	// Loop-owned state
	devices       *DeviceRegistry
	clientCreated bool
	adapterState  ble.AdapterState
	onStateChange func(ble.AdapterState)
	scan          *scanSubscription
	connSubs      map[string]func(ble.ConnectionState)
	monitors      map[string]*monitorRegistration
	monitorSeq    uint64
	entropy       *ulid.MonotonicEntropy
	stopping      bool

	logLevel atomic.Value // ble.LogLevel

	// Counters
	callsSent       atomic.Uint64
	repliesReceived atomic.Uint64
	eventsReceived  atomic.Uint64
	fatalErrors     atomic.Uint64

	// Loop coordination
	inbox    chan func()
	postMu   sync.RWMutex
	started  bool
	closed   bool
	exiting  chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

var (
	_ ble.Adapter = (*Adapter)(nil)
	_ Inbound     = (*Adapter)(nil)
)

// New creates an adapter. Call Start before use.
func New(opts Options) (*Adapter, error) {
	if opts.Channel == nil {
		return nil, fmt.Errorf("channel is required")
	}

	inboxSize := opts.InboxSize
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	a := &Adapter{
		channel:      opts.Channel,
		recorder:     opts.Recorder,
		metrics:      opts.Metrics,
		tracer:       tp.Tracer(tracerName),
		observer:     opts.Observer,
		onFatal:      opts.OnFatal,
		correlations: NewCorrelationRegistry(),
		devices:      NewDeviceRegistry(),
		adapterState: ble.StateUnknown,
		connSubs:     make(map[string]func(ble.ConnectionState)),
		monitors:     make(map[string]*monitorRegistration),
		entropy:      ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0), //nolint:gosec // ids need uniqueness, not secrecy
		inbox:        make(chan func(), inboxSize),
		exiting:      make(chan struct{}),
		done:         make(chan struct{}),
		logger:       opts.Logger,
	}
	a.logLevel.Store(ble.LogVerbose)
	a.dispatcher = newDispatcher(func(err error) {
		a.logError("callback failed", err)
	})
	return a, nil
}

// Start launches the loop and the callback dispatcher, then begins
// listening on the channel.
//
// Parameters:
//   - ctx: Cancelling it stops the loop just like Stop (Stop must still be
//     called to release the dispatcher)
func (a *Adapter) Start(ctx context.Context) error {
	select {
	case <-a.done:
		return ErrAdapterStopped
	default:
	}

	a.postMu.Lock()
	if a.started {
		a.postMu.Unlock()
		return fmt.Errorf("adapter already started")
	}
	a.started = true
	a.postMu.Unlock()

	a.wg.Add(1)
	go a.loop(ctx)
	go a.dispatcher.run()

	if err := a.channel.Listen(a); err != nil {
		return fmt.Errorf("listen on channel: %w", err)
	}

	a.logInfo("adapter started")
	return nil
}

// Stop shuts the adapter down. Pending calls and live monitors fail with
// BluetoothManagerDestroyed; queued callbacks run before Stop returns.
// Safe to call multiple times. Must not be called from a callback.
func (a *Adapter) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
		a.wg.Wait()

		a.postMu.RLock()
		started := a.started
		a.postMu.RUnlock()
		if started {
			a.dispatcher.stop()
		}

		a.logInfo("adapter stopped")
	})
}

// loop executes posted operations in order until shutdown.
func (a *Adapter) loop(ctx context.Context) {
	defer a.wg.Done()

	for {
		select {
		case fn := <-a.inbox:
			fn()
		case <-a.done:
			a.shutdown()
			return
		case <-ctx.Done():
			a.shutdown()
			return
		}
	}
}

// shutdown runs on the loop. After it returns no posted operation is left
// unexecuted and no continuation is left unresolved.
func (a *Adapter) shutdown() {
	close(a.exiting)

	a.postMu.Lock()
	a.closed = true
	a.postMu.Unlock()

	a.stopping = true

drain:
	for {
		select {
		case fn := <-a.inbox:
			fn()
		default:
			break drain
		}
	}

	for _, handler := range a.correlations.Drain() {
		handler(localReply("", errManagerDestroyed()))
	}

	for txID, reg := range a.monitors {
		delete(a.monitors, txID)
		a.deliverError(reg.onError, errManagerDestroyed())
	}
	if a.scan != nil {
		onError := a.scan.onError
		a.scan = nil
		a.deliverError(onError, errManagerDestroyed())
	}
}

// post hands fn to the loop. Once post returns nil, fn is guaranteed to run
// exactly once.
func (a *Adapter) post(ctx context.Context, fn func()) error {
	a.postMu.RLock()
	defer a.postMu.RUnlock()

	if !a.started {
		return ErrNotStarted
	}
	if a.closed {
		return ErrAdapterStopped
	}

	select {
	case a.inbox <- fn:
		return nil
	case <-a.exiting:
		return ErrAdapterStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// query runs fn on the loop and waits for its result.
func query[T any](ctx context.Context, a *Adapter, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)

	if err := a.post(ctx, func() {
		v, err := fn()
		ch <- result{value: v, err: err}
	}); err != nil {
		var zero T
		return zero, err
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// exec runs fn on the loop and waits for its error.
func (a *Adapter) exec(ctx context.Context, fn func() error) error {
	_, err := query(ctx, a, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// fatal reports a protocol violation by the engine.
func (a *Adapter) fatal(err error) {
	a.fatalErrors.Add(1)
	a.logError("simulation protocol violation", err)
	if a.onFatal != nil {
		onFatal := a.onFatal
		a.dispatcher.enqueue(func() { onFatal(err) })
	}
}

// deliverError schedules err on a caller error callback. The explicit nil
// check keeps a nil *ble.Error from turning into a non-nil error.
func (a *Adapter) deliverError(onError func(error), err *ble.Error) {
	if onError == nil || err == nil {
		return
	}
	a.dispatcher.enqueue(func() { onError(err) })
}

// canonical returns the registry's view of a device, falling back to the
// engine's copy for devices the adapter has never seen.
func (a *Adapter) canonical(fallback ble.Device) ble.Device {
	if dc := a.devices.ByID(fallback.ID); dc != nil {
		return dc.Device.Clone()
	}
	return fallback
}

// =============================================================================
// Lifecycle
// =============================================================================

// CreateClient registers the adapter's single client and its state listener.
//
// Returns:
//   - error: ErrAdapterAlreadyRegistered if a client already exists
func (a *Adapter) CreateClient(ctx context.Context, restoreStateID string, onStateChange func(ble.AdapterState), done ble.Completion[struct{}]) error {
	return a.exec(ctx, func() error {
		if a.clientCreated {
			return ErrAdapterAlreadyRegistered
		}
		a.clientCreated = true
		a.onStateChange = onStateChange

		onSuccess, onError := completion(a, done)
		var restore any
		if restoreStateID != "" {
			restore = restoreStateID
		}
		call(a, opCreateClient, map[string]any{argRestoreStateID: restore}, onSuccess, func(e *ble.Error) {
			a.clientCreated = false
			a.onStateChange = nil
			onError(e)
		})
		return nil
	})
}

// DestroyClient deregisters the client and drops its scan and state listener.
func (a *Adapter) DestroyClient(ctx context.Context, done ble.Completion[struct{}]) error {
	return a.exec(ctx, func() error {
		a.clientCreated = false
		a.onStateChange = nil
		a.scan = nil

		onSuccess, onError := completion(a, done)
		call(a, opDestroyClient, map[string]any{}, onSuccess, onError)
		return nil
	})
}

// Enable asks the engine to power the adapter on.
func (a *Adapter) Enable(ctx context.Context, transactionID string, done ble.Completion[struct{}]) error {
	return a.exec(ctx, func() error {
		onSuccess, onError := completion(a, done)
		call(a, opEnable, map[string]any{argTransactionID: transactionID}, onSuccess, onError)
		return nil
	})
}

// Disable asks the engine to power the adapter off.
func (a *Adapter) Disable(ctx context.Context, transactionID string, done ble.Completion[struct{}]) error {
	return a.exec(ctx, func() error {
		onSuccess, onError := completion(a, done)
		call(a, opDisable, map[string]any{argTransactionID: transactionID}, onSuccess, onError)
		return nil
	})
}

// GetCurrentState returns the last power state published by the engine.
func (a *Adapter) GetCurrentState(ctx context.Context) (ble.AdapterState, error) {
	return query(ctx, a, func() (ble.AdapterState, error) {
		return a.adapterState, nil
	})
}

// SetLogLevel sets the adapter's own verbosity.
func (a *Adapter) SetLogLevel(_ context.Context, level ble.LogLevel) error {
	if !level.IsValid() {
		return fmt.Errorf("%w: log level %q", ErrInvalidArgument, level)
	}
	a.logLevel.Store(level)
	a.logInfo("adapter log level changed", "level", level)
	return nil
}

// GetLogLevel returns the adapter's own verbosity.
func (a *Adapter) GetLogLevel(_ context.Context) (ble.LogLevel, error) {
	return a.currentLogLevel(), nil
}

func (a *Adapter) currentLogLevel() ble.LogLevel {
	level, ok := a.logLevel.Load().(ble.LogLevel)
	if !ok {
		return ble.LogVerbose
	}
	return level
}

// =============================================================================
// Scanning
// =============================================================================

// StartDeviceScan begins delivering scan results to onResult.
//
// Returns:
//   - error: wraps ErrScanInProgress and a ScanStartFailed *ble.Error if a
//     scan is already active; nothing is sent in that case
func (a *Adapter) StartDeviceScan(ctx context.Context, opts ble.ScanOptions, onResult func(ble.ScanResult), onError func(error)) error {
	return a.exec(ctx, func() error {
		if a.scan != nil {
			return fmt.Errorf("%w: %w", ErrScanInProgress, ble.NewError(ble.ScanStartFailed, "scan already in progress"))
		}
		sub := &scanSubscription{onResult: onResult, onError: onError}
		a.scan = sub

		args := map[string]any{
			argFilteredUUIDs: ble.NormalizeUUIDs(opts.FilteredUUIDs),
			argScanMode:      int(opts.ScanMode),
			argCallbackType:  int(opts.CallbackType),
		}
		call(a, opStartScan, args, func(struct{}) {}, func(e *ble.Error) {
			if a.scan == sub {
				a.scan = nil
			}
			a.deliverError(onError, e)
		})
		return nil
	})
}

// StopDeviceScan drops the scan subscriber and tells the engine to stop.
// Results arriving afterwards still register their devices.
func (a *Adapter) StopDeviceScan(ctx context.Context) error {
	return a.exec(ctx, func() error {
		a.scan = nil
		a.sendStopScan()
		return nil
	})
}

func (a *Adapter) sendStopScan() {
	call(a, opStopScan, map[string]any{}, func(struct{}) {}, func(e *ble.Error) {
		a.logWarn("stop scan failed", "error", e)
	})
}

// =============================================================================
// Connection
// =============================================================================

// ConnectToDevice registers onState for the device's link transitions and
// asks the engine to connect. The completion receives the canonical device.
func (a *Adapter) ConnectToDevice(ctx context.Context, deviceID string, opts ble.ConnectOptions, onState func(ble.ConnectionState), done ble.Completion[ble.Device]) error {
	return a.exec(ctx, func() error {
		a.devices.EnsureKnown(deviceID, nil)
		if onState == nil {
			onState = func(ble.ConnectionState) {}
		}
		a.connSubs[deviceID] = onState

		args := map[string]any{
			argIdentifier:    deviceID,
			argIsAutoConnect: opts.AutoConnect,
			argRequestMTU:    opts.RequestMTU,
			argRefreshGATT:   opts.RefreshGATT,
			argTimeout:       timeoutMillis(opts.Timeout),
		}
		onSuccess, onError := completion(a, done)
		call(a, opConnect, args, func(d ble.Device) {
			dc := a.devices.EnsureKnown(deviceID, nil)
			a.devices.UpdateName(deviceID, d.Name)
			if d.MTU > 0 {
				dc.Device.MTU = d.MTU
			}
			onSuccess(dc.Device.Clone())
		}, onError)
		return nil
	})
}

// CancelDeviceConnection asks the engine to drop the link.
func (a *Adapter) CancelDeviceConnection(ctx context.Context, deviceID string, done ble.Completion[ble.Device]) error {
	return a.exec(ctx, func() error {
		onSuccess, onError := completion(a, done)
		call(a, opDisconnect, map[string]any{argIdentifier: deviceID}, func(d ble.Device) {
			onSuccess(a.canonical(d))
		}, onError)
		return nil
	})
}

// IsDeviceConnected asks the engine whether the device is connected.
func (a *Adapter) IsDeviceConnected(ctx context.Context, deviceID string, done ble.Completion[bool]) error {
	return a.exec(ctx, func() error {
		onSuccess, onError := completion(a, done)
		call(a, opIsDeviceConnected, map[string]any{argIdentifier: deviceID}, onSuccess, onError)
		return nil
	})
}

// RequestMTUForDevice negotiates a new MTU. The engine answers with a bare
// integer; the completion receives the canonical device carrying it.
func (a *Adapter) RequestMTUForDevice(ctx context.Context, deviceID string, mtu int, transactionID string, done ble.Completion[ble.Device]) error {
	return a.exec(ctx, func() error {
		args := map[string]any{
			argIdentifier:    deviceID,
			argMTU:           mtu,
			argTransactionID: transactionID,
		}
		onSuccess, onError := completion(a, done)
		call(a, opRequestMTU, args, func(negotiated int) {
			dc := a.devices.ByID(deviceID)
			if dc == nil {
				onSuccess(ble.Device{ID: deviceID, MTU: negotiated})
				return
			}
			dc.Device.MTU = negotiated
			onSuccess(dc.Device.Clone())
		}, onError)
		return nil
	})
}

// RequestConnectionPriorityForDevice requests a connection interval class.
func (a *Adapter) RequestConnectionPriorityForDevice(ctx context.Context, deviceID string, priority ble.ConnectionPriority, transactionID string, done ble.Completion[ble.Device]) error {
	return a.exec(ctx, func() error {
		args := map[string]any{
			argIdentifier:         deviceID,
			argConnectionPriority: int(priority),
			argTransactionID:      transactionID,
		}
		onSuccess, onError := completion(a, done)
		call(a, opRequestConnectionPriority, args, func(d ble.Device) {
			onSuccess(a.canonical(d))
		}, onError)
		return nil
	})
}

// ReadRSSIForDevice reads the device's signal strength.
func (a *Adapter) ReadRSSIForDevice(ctx context.Context, deviceID string, transactionID string, done ble.Completion[ble.Device]) error {
	return a.exec(ctx, func() error {
		args := map[string]any{
			argIdentifier:    deviceID,
			argTransactionID: transactionID,
		}
		onSuccess, onError := completion(a, done)
		call(a, opReadRSSI, args, func(d ble.Device) {
			if dc := a.devices.ByID(deviceID); dc != nil && d.RSSI != nil {
				rssi := *d.RSSI
				dc.Device.RSSI = &rssi
			}
			onSuccess(a.canonical(d))
		}, onError)
		return nil
	})
}

// GetKnownDevices asks the engine which of deviceIDs it knows about.
func (a *Adapter) GetKnownDevices(ctx context.Context, deviceIDs []string, done ble.Completion[[]ble.Device]) error {
	return a.exec(ctx, func() error {
		onSuccess, onError := completion(a, done)
		call(a, opGetKnownDevices, map[string]any{argDeviceIdentifiers: deviceIDs}, func(devices []ble.Device) {
			onSuccess(a.canonicalAll(devices))
		}, onError)
		return nil
	})
}

// GetConnectedDevices asks the engine which devices exposing any of
// serviceUUIDs are connected.
func (a *Adapter) GetConnectedDevices(ctx context.Context, serviceUUIDs []string, done ble.Completion[[]ble.Device]) error {
	return a.exec(ctx, func() error {
		onSuccess, onError := completion(a, done)
		args := map[string]any{argServiceUUIDs: ble.NormalizeUUIDs(serviceUUIDs)}
		call(a, opGetConnectedDevices, args, func(devices []ble.Device) {
			onSuccess(a.canonicalAll(devices))
		}, onError)
		return nil
	})
}

func (a *Adapter) canonicalAll(devices []ble.Device) []ble.Device {
	out := make([]ble.Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, a.canonical(d))
	}
	return out
}

// =============================================================================
// Inbound traffic
// =============================================================================

// HandleReply routes one reply to its pending call. It returns once the
// reply is queued on the loop; an unknown correlation id is reported through
// OnFatal.
func (a *Adapter) HandleReply(payload []byte) error {
	var reply Reply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return fmt.Errorf("%w: reply: %w", ErrInvalidPayload, err)
	}
	if reply.CorrelationID == "" {
		return fmt.Errorf("%w: reply without correlationId", ErrInvalidPayload)
	}
	raw := bytes.Clone(payload)

	return a.post(context.Background(), func() {
		a.repliesReceived.Add(1)
		a.recordInbound(KindReply, "", reply.CorrelationID, "", raw)
		if err := a.correlations.Resolve(reply.CorrelationID, reply); err != nil {
			a.fatal(err)
		}
	})
}

// HandleEvent decodes one publish event and queues it on the loop.
func (a *Adapter) HandleEvent(event EventType, payload []byte) error {
	raw := bytes.Clone(payload)

	switch event {
	case EventScanResult:
		var ev ScanResultEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("%w: scan result event: %w", ErrInvalidPayload, err)
		}
		if !isNullJSON(ev.Error) {
			bleErr, err := DecodeError(ev.Error)
			if err != nil {
				return err
			}
			return a.post(context.Background(), func() { a.applyScanError(bleErr, raw) })
		}
		result, err := DecodeScanResult(ev.ScanResult)
		if err != nil {
			return err
		}
		return a.post(context.Background(), func() { a.applyScanResult(result, raw) })

	case EventAdapterStateChanged:
		var ev AdapterStateEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("%w: adapter state event: %w", ErrInvalidPayload, err)
		}
		if !ev.State.IsValid() {
			return fmt.Errorf("%w: adapter state %q", ErrInvalidPayload, ev.State)
		}
		return a.post(context.Background(), func() { a.applyAdapterState(ev.State, raw) })

	case EventConnectionStateChanged:
		var ev ConnectionStateEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("%w: connection state event: %w", ErrInvalidPayload, err)
		}
		if ev.PeripheralID == "" || !ev.ConnectionState.IsValid() {
			return fmt.Errorf("%w: connection state event %q/%q", ErrInvalidPayload, ev.PeripheralID, ev.ConnectionState)
		}
		return a.post(context.Background(), func() {
			if err := a.applyConnectionState(ev.PeripheralID, ev.ConnectionState, raw); err != nil {
				a.fatal(err)
			}
		})

	case EventCharacteristicNotification:
		var ev NotificationEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("%w: notification event: %w", ErrInvalidPayload, err)
		}
		var (
			ch     *ble.Characteristic
			bleErr *ble.Error
		)
		if !isNullJSON(ev.Error) {
			decoded, err := DecodeError(ev.Error)
			if err != nil {
				return err
			}
			bleErr = decoded
		} else if !isNullJSON(ev.Characteristic) {
			decoded, err := DecodeCharacteristicValue(ev.Characteristic)
			if err != nil {
				return err
			}
			ch = &decoded
		}
		return a.post(context.Background(), func() { a.applyNotification(ev.TransactionID, ch, bleErr, raw) })

	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidPayload, event)
	}
}

// PublishAdapterState applies a power state change.
func (a *Adapter) PublishAdapterState(ctx context.Context, state ble.AdapterState) error {
	if !state.IsValid() {
		return fmt.Errorf("%w: adapter state %q", ErrInvalidArgument, state)
	}
	return a.exec(ctx, func() error {
		a.applyAdapterState(state, nil)
		return nil
	})
}

// PublishScanResult applies one advertising report.
func (a *Adapter) PublishScanResult(ctx context.Context, result ble.ScanResult) error {
	return a.exec(ctx, func() error {
		a.applyScanResult(result, nil)
		return nil
	})
}

// PublishScanError fails the active scan and stops it.
func (a *Adapter) PublishScanError(ctx context.Context, scanErr *ble.Error) error {
	if scanErr == nil {
		return fmt.Errorf("%w: nil scan error", ErrInvalidArgument)
	}
	return a.exec(ctx, func() error {
		a.applyScanError(scanErr, nil)
		return nil
	})
}

// PublishConnectionState applies a link transition.
//
// Returns:
//   - error: ErrNoSubscriberForDevice if nobody is connecting to deviceID;
//     the violation is also reported through OnFatal
func (a *Adapter) PublishConnectionState(ctx context.Context, deviceID string, state ble.ConnectionState) error {
	if !state.IsValid() {
		return fmt.Errorf("%w: connection state %q", ErrInvalidArgument, state)
	}
	return a.exec(ctx, func() error {
		if err := a.applyConnectionState(deviceID, state, nil); err != nil {
			a.fatal(err)
			return err
		}
		return nil
	})
}

// PublishNotification delivers a monitored value or a terminal monitor error.
func (a *Adapter) PublishNotification(ctx context.Context, transactionID string, ch *ble.Characteristic, notifyErr *ble.Error) error {
	return a.exec(ctx, func() error {
		a.applyNotification(transactionID, ch, notifyErr, nil)
		return nil
	})
}

// noteEvent records, counts and fans out an applied publish event.
func (a *Adapter) noteEvent(ev AdapterEvent, raw []byte) {
	a.eventsReceived.Add(1)
	ev.Timestamp = time.Now().UTC()

	if a.metrics != nil {
		a.metrics.RecordEvent(ev.Type)
	}
	if a.recorder != nil {
		if raw == nil {
			encoded, err := json.Marshal(ev.Payload)
			if err != nil {
				a.logError("failed to encode event for recorder", err)
			}
			raw = encoded
		}
		a.recordInbound(KindEvent, string(ev.Type), "", ev.DeviceID, raw)
	}
	if a.observer != nil {
		observer := a.observer
		a.dispatcher.enqueue(func() { observer(ev) })
	}
}

func (a *Adapter) applyAdapterState(state ble.AdapterState, raw []byte) {
	a.adapterState = state
	a.logDebug("adapter state changed", "state", state)
	a.noteEvent(AdapterEvent{Type: EventAdapterStateChanged, Payload: AdapterStateEvent{State: state}}, raw)

	if cb := a.onStateChange; cb != nil {
		a.dispatcher.enqueue(func() { cb(state) })
	}
}

func (a *Adapter) applyScanResult(result ble.ScanResult, raw []byte) {
	dc := a.devices.EnsureKnown(result.Device.ID, result.Device.Name)
	if result.Device.RSSI != nil {
		rssi := *result.Device.RSSI
		dc.Device.RSSI = &rssi
	}
	a.noteEvent(AdapterEvent{Type: EventScanResult, DeviceID: result.Device.ID, Payload: result}, raw)

	if a.scan == nil || a.scan.onResult == nil {
		a.logDebug("scan result without subscriber", "device_id", result.Device.ID)
		return
	}
	onResult := a.scan.onResult
	a.dispatcher.enqueue(func() { onResult(result) })
}

func (a *Adapter) applyScanError(scanErr *ble.Error, raw []byte) {
	a.noteEvent(AdapterEvent{Type: EventScanResult, Payload: scanErr}, raw)

	if a.scan == nil {
		a.logWarn("scan error without active scan", "error", scanErr)
		return
	}
	onError := a.scan.onError
	a.scan = nil
	a.deliverError(onError, scanErr)
	a.sendStopScan()
}

func (a *Adapter) applyConnectionState(deviceID string, state ble.ConnectionState, raw []byte) error {
	onState, ok := a.connSubs[deviceID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSubscriberForDevice, deviceID)
	}

	a.noteEvent(AdapterEvent{
		Type:     EventConnectionStateChanged,
		DeviceID: deviceID,
		Payload:  ConnectionStateEvent{PeripheralID: deviceID, ConnectionState: state},
	}, raw)
	a.dispatcher.enqueue(func() { onState(state) })

	a.devices.EnsureKnown(deviceID, nil)
	a.devices.UpdateConnectionState(deviceID, state)
	if state == ble.Disconnected {
		delete(a.connSubs, deviceID)
	}
	a.logDebug("connection state changed", "device_id", deviceID, "state", state)
	return nil
}

// =============================================================================
// Introspection
// =============================================================================

// Stats is a point-in-time summary of adapter state.
type Stats struct {
	AdapterState     ble.AdapterState `json:"adapter_state"`
	LogLevel         ble.LogLevel     `json:"log_level"`
	ClientCreated    bool             `json:"client_created"`
	Scanning         bool             `json:"scanning"`
	PendingCalls     int              `json:"pending_calls"`
	KnownDevices     int              `json:"known_devices"`
	ConnectedDevices int              `json:"connected_devices"`
	Monitors         int              `json:"monitors"`
	CallsSent        uint64           `json:"calls_sent"`
	RepliesReceived  uint64           `json:"replies_received"`
	EventsReceived   uint64           `json:"events_received"`
	FatalErrors      uint64           `json:"fatal_errors"`
}

// Stats returns a snapshot of the adapter's bookkeeping.
func (a *Adapter) Stats(ctx context.Context) (Stats, error) {
	return query(ctx, a, func() (Stats, error) {
		return Stats{
			AdapterState:     a.adapterState,
			LogLevel:         a.currentLogLevel(),
			ClientCreated:    a.clientCreated,
			Scanning:         a.scan != nil,
			PendingCalls:     a.correlations.Pending(),
			KnownDevices:     a.devices.Len(),
			ConnectedDevices: a.devices.ConnectedCount(),
			Monitors:         len(a.monitors),
			CallsSent:        a.callsSent.Load(),
			RepliesReceived:  a.repliesReceived.Load(),
			EventsReceived:   a.eventsReceived.Load(),
			FatalErrors:      a.fatalErrors.Load(),
		}, nil
	})
}

// Devices returns every device the adapter has seen, in first-seen order.
func (a *Adapter) Devices(ctx context.Context) ([]ble.Device, error) {
	return query(ctx, a, func() ([]ble.Device, error) {
		return a.devices.Devices(), nil
	})
}

// Device returns one known device.
func (a *Adapter) Device(ctx context.Context, deviceID string) (ble.Device, error) {
	return query(ctx, a, func() (ble.Device, error) {
		dc := a.devices.ByID(deviceID)
		if dc == nil {
			return ble.Device{}, ble.NewError(ble.DeviceNotFound, "device not known").WithDevice(deviceID)
		}
		return dc.Device.Clone(), nil
	})
}

// =============================================================================
// Logging
// =============================================================================

// SetLogger sets the logger for this adapter.
func (a *Adapter) SetLogger(logger Logger) {
	a.loggerMu.Lock()
	a.logger = logger
	a.loggerMu.Unlock()
}

func (a *Adapter) getLogger() Logger {
	a.loggerMu.RLock()
	defer a.loggerMu.RUnlock()
	return a.logger
}

// logInfo logs an info message if logger is set.
func (a *Adapter) logInfo(msg string, keysAndValues ...any) {
	if logger := a.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (a *Adapter) logWarn(msg string, keysAndValues ...any) {
	if logger := a.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (a *Adapter) logError(msg string, err error) {
	if logger := a.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs per-call detail when the adapter log level is Verbose or Debug.
func (a *Adapter) logDebug(msg string, keysAndValues ...any) {
	switch a.currentLogLevel() {
	case ble.LogVerbose, ble.LogDebug:
	default:
		return
	}
	if logger := a.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
