package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/bridges/nbe"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/config"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/logging"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/resource"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/state"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// healthCheckTimeout bounds the backend checks run by the health endpoint.
const healthCheckTimeout = 2 * time.Second

// BridgeView is the part of the bridge the API reads from.
type BridgeView interface {
	Registry() *resource.Registry
	Value(key string) (nbe.Value, bool)
	OnValueChange(fn func(key string, v nbe.Value))
	GetMetrics() nbe.BridgeMetrics
}

// HistoryReader returns recorded value changes, newest first.
type HistoryReader interface {
	History(ctx context.Context, resourceKey string, limit int) ([]state.Entry, error)
}

// DBStatter reports connection pool statistics.
type DBStatter interface {
	Stats() sql.DBStats
}

// HealthChecker is a backend the health endpoint reports on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Bridge  BridgeView
	History HistoryReader // optional
	DB      DBStatter     // optional
	Version string

	// Checks are run on every health request, keyed by the name reported
	// in the response. Optional.
	Checks map[string]HealthChecker
}

// Server is the HTTP status server.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	bridge    BridgeView
	history   HistoryReader
	db        DBStatter
	checks    map[string]HealthChecker
	version   string
	startTime time.Time
	server    *http.Server
	listener  net.Listener
	hub       *Hub
	cancel    context.CancelFunc
}

// New creates a new API server. The server is not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		history:   deps.History,
		db:        deps.DB,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Logger),
	}, nil
}

// Start listens on the configured address and serves in the background.
// Value changes observed by the bridge are relayed to WebSocket clients.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.bridge.OnValueChange(s.broadcastValue)

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// broadcastValue relays one value change to subscribed WebSocket clients.
func (s *Server) broadcastValue(key string, v nbe.Value) {
	s.hub.Broadcast(ChannelValueChanged, valueEvent{
		ResourceKey: key,
		Value:       v.Value,
		Source:      v.Source,
		UpdatedAt:   v.UpdatedAt,
	})
}
