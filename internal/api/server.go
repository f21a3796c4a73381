package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/periphctl/internal/dispatch"
	"github.com/nerrad567/periphctl/internal/history"
	"github.com/nerrad567/periphctl/internal/infrastructure/config"
	"github.com/nerrad567/periphctl/internal/infrastructure/logging"
	"github.com/nerrad567/periphctl/internal/settings"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SettingsStore is the settings API used by the server. *settings.Store
// implements it.
type SettingsStore interface {
	Get() (settings.Settings, error)
	UpdatedAt() time.Time
	APIKey(ctx context.Context) (string, error)
	Update(ctx context.Context, next settings.Settings) error
}

// HealthChecker is implemented by the database and the optional MQTT and
// InfluxDB clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsFunc returns a JSON-ready snapshot for the status endpoint.
type StatsFunc func() any

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Dispatcher *dispatch.Dispatcher
	Settings   SettingsStore

	// Optional.
	History     history.Repository
	Metrics     http.Handler
	MetricsPath string
	Checks      map[string]HealthChecker
	Stats       map[string]StatsFunc
	Hub         *Hub

	DeviceID string
	Version  string
}

// Server is the HTTP API server.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	dispatcher  *dispatch.Dispatcher
	settings    SettingsStore
	history     history.Repository
	metrics     http.Handler
	metricsPath string
	checks      map[string]HealthChecker
	stats       map[string]StatsFunc
	deviceID    string
	version     string
	startTime   time.Time

	hub         *Hub
	externalHub bool

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server. The server is not started until Start is
// called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("settings store is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		dispatcher:  deps.Dispatcher,
		settings:    deps.Settings,
		history:     deps.History,
		metrics:     deps.Metrics,
		metricsPath: deps.MetricsPath,
		checks:      deps.Checks,
		stats:       deps.Stats,
		deviceID:    deps.DeviceID,
		version:     deps.Version,
		startTime:   time.Now(),
	}
	if s.metricsPath == "" {
		s.metricsPath = "/metrics"
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub. Register it as a dispatch.Observer to
// stream command.executed events.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router. Used by Start and by tests.
func (s *Server) Handler() http.Handler { return s.buildRouter() }

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

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

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		s.server = nil
		return fmt.Errorf("listening on %s: %w", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port), err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
