package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
	"github.com/nerrad567/gray-logic-blemulator/internal/bridges/blesim"
	"github.com/nerrad567/gray-logic-blemulator/internal/engine"
	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultCallTimeout bounds awaited adapter calls when none is configured.
const defaultCallTimeout = 10 * time.Second

// Controller is the part of the adapter the API drives.
// *blesim.Adapter satisfies it.
type Controller interface {
	Stats(ctx context.Context) (blesim.Stats, error)
	Devices(ctx context.Context) ([]ble.Device, error)
	Device(ctx context.Context, deviceID string) (ble.Device, error)

	GetLogLevel(ctx context.Context) (ble.LogLevel, error)
	SetLogLevel(ctx context.Context, level ble.LogLevel) error
	Enable(ctx context.Context, transactionID string, done ble.Completion[struct{}]) error
	Disable(ctx context.Context, transactionID string, done ble.Completion[struct{}]) error

	StartDeviceScan(ctx context.Context, opts ble.ScanOptions, onResult func(ble.ScanResult), onError func(error)) error
	StopDeviceScan(ctx context.Context) error

	ConnectToDevice(ctx context.Context, deviceID string, opts ble.ConnectOptions, onState func(ble.ConnectionState), done ble.Completion[ble.Device]) error
	CancelDeviceConnection(ctx context.Context, deviceID string, done ble.Completion[ble.Device]) error
	RequestMTUForDevice(ctx context.Context, deviceID string, mtu int, transactionID string, done ble.Completion[ble.Device]) error

	DiscoverAllServicesAndCharacteristicsForDevice(ctx context.Context, deviceID string, transactionID string, done ble.Completion[ble.Device]) error
	ServicesForDevice(ctx context.Context, deviceID string) ([]ble.Service, error)
	CharacteristicsForDevice(ctx context.Context, deviceID, serviceUUID string) ([]ble.Characteristic, error)
	ReadCharacteristicForDevice(ctx context.Context, deviceID, serviceUUID, characteristicUUID, transactionID string, done ble.Completion[ble.Characteristic]) error
	WriteCharacteristicForDevice(ctx context.Context, deviceID, serviceUUID, characteristicUUID string, value []byte, withResponse bool, transactionID string, done ble.Completion[ble.Characteristic]) error

	CancelTransaction(ctx context.Context, transactionID string) error
}

var _ Controller = (*blesim.Adapter)(nil)

// EngineStatsSource reports a locally supervised engine.
// *engine.Supervisor satisfies it.
type EngineStatsSource interface {
	Stats() engine.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Adapter     Controller
	Channel     blesim.ChannelStatsSource // optional: channel traffic in GET /adapter
	Engine      EngineStatsSource         // optional: supervised engine in GET /health
	Hub         *Hub                      // If set, the server uses this hub instead of creating its own
	CallTimeout time.Duration
	Version     string
}

// Server is the HTTP API server of the adapter.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	adapter     Controller
	channel     blesim.ChannelStatsSource
	engine      EngineStatsSource
	callTimeout time.Duration
	version     string
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}

	callTimeout := deps.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       withWebSocketDefaults(deps.WS),
		logger:      deps.Logger,
		adapter:     deps.Adapter,
		channel:     deps.Channel,
		engine:      deps.Engine,
		callTimeout: callTimeout,
		version:     deps.Version,
	}

	// The adapter is usually built before the server and needs the hub as
	// its observer, so main creates the hub first and injects it.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, deps.Logger)
	}

	return s, nil
}

// withWebSocketDefaults fills unset keepalive settings.
func withWebSocketDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	return cfg
}

// Hub returns the WebSocket hub the server broadcasts through.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub (unless injected), and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
