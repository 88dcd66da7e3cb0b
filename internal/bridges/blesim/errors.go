package blesim

import "errors"

// Domain-specific errors for the simulated adapter.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownCorrelationID is returned when a reply names a correlation id
	// that was never issued or has already been resolved. It means the engine
	// broke the one-reply-per-request contract.
	ErrUnknownCorrelationID = errors.New("blesim: unknown correlation id")

	// ErrNoSubscriberForDevice is returned when the engine publishes a
	// connection state for a device nobody is connecting to.
	ErrNoSubscriberForDevice = errors.New("blesim: no connection state subscriber for device")

	// ErrScanInProgress is returned when a scan is started while one is active.
	ErrScanInProgress = errors.New("blesim: scan already in progress")

	// ErrAdapterAlreadyRegistered is returned by CreateClient when a client
	// already exists on this adapter.
	ErrAdapterAlreadyRegistered = errors.New("blesim: client already created")

	// ErrNotStarted is returned when the adapter is used before Start.
	ErrNotStarted = errors.New("blesim: adapter not started")

	// ErrAdapterStopped is returned when the adapter has been stopped.
	ErrAdapterStopped = errors.New("blesim: adapter stopped")

	// ErrNotConnected is returned when GATT data is added to a cache whose
	// device is not connected.
	ErrNotConnected = errors.New("blesim: device not connected")

	// ErrInvalidPayload is returned when an inbound message cannot be decoded.
	ErrInvalidPayload = errors.New("blesim: invalid payload")

	// ErrChannelUnavailable is returned when the channel refuses to send,
	// for example while its circuit breaker is open.
	ErrChannelUnavailable = errors.New("blesim: channel unavailable")

	// ErrInvalidArgument is returned when a caller passes an unusable value,
	// such as an unknown log level or adapter state.
	ErrInvalidArgument = errors.New("blesim: invalid argument")
)
