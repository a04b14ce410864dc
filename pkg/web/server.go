// Package web serves the status dashboard: loop state, recent cycles,
// a manual trigger, camera settings, Prometheus metrics and a websocket
// feed of busy changes and cycle records.
package web

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-envision/pkg/camera"
	"github.com/teslashibe/go-envision/pkg/envision"
	"github.com/teslashibe/go-envision/pkg/hub"
	"github.com/teslashibe/go-envision/pkg/metrics"
)

// HistorySize is how many cycle records the server keeps.
const HistorySize = 50

// Websocket event types.
const (
	EventBusy  = "busy"
	EventCycle = "cycle"
	EventState = "state"
)

// Controller is the part of the loop the dashboard drives.
type Controller interface {
	Analyze(ctx context.Context) (envision.Cycle, error)
	Stats() envision.Stats
}

// Server is the web dashboard server. It implements envision.Indicator
// and envision.Observer.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	loop    Controller
	camera  *camera.Manager
	metrics *metrics.Collector

	statusHub *hub.Hub

	mu      sync.RWMutex
	busy    bool
	history []envision.Cycle
	totals  map[envision.Outcome]uint64
}

// Option configures the server.
type Option func(*Server)

// WithCamera exposes camera settings under /api/camera.
func WithCamera(m *camera.Manager) Option {
	return func(s *Server) { s.camera = m }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a dashboard listening on addr once started.
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		logger:  slog.Default(),
		history: make([]envision.Cycle, 0, HistorySize),
		totals:  make(map[envision.Outcome]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "web.server")
	s.statusHub = hub.New("status", s.logger)

	app := fiber.New(fiber.Config{
		AppName:               "envision",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          90 * time.Second,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/cycles", s.handleCycles)
	api.Post("/analyze", s.handleAnalyze)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handleUpdateCamera)

	if s.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// SetController attaches the loop. Until then /api/analyze returns 503.
func (s *Server) SetController(loop Controller) {
	s.mu.Lock()
	s.loop = loop
	s.mu.Unlock()
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hub and serves until Shutdown. The hub stops with ctx.
func (s *Server) Start(ctx context.Context) error {
	go s.statusHub.Run(ctx)
	s.logger.Info("dashboard listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync(ctx context.Context) {
	go func() {
		if err := s.Start(ctx); err != nil {
			s.logger.Error("web server stopped", "error", err)
		}
	}()
}

// Shutdown gracefully stops the web server.
func (s *Server) Shutdown(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return s.app.Shutdown()
	}
	return s.app.ShutdownWithTimeout(time.Until(deadline))
}

// SetBusy records the indicator state and pushes it to clients.
func (s *Server) SetBusy(busy bool) {
	s.mu.Lock()
	s.busy = busy
	s.mu.Unlock()

	if err := s.statusHub.BroadcastEvent(EventBusy, busy); err != nil {
		s.logger.Warn("broadcast failed", "error", err)
	}
}

// CycleDone stores c and pushes it to clients.
func (s *Server) CycleDone(c envision.Cycle) {
	s.mu.Lock()
	if len(s.history) == HistorySize {
		copy(s.history, s.history[1:])
		s.history = s.history[:HistorySize-1]
	}
	s.history = append(s.history, c)
	s.totals[c.Outcome]++
	s.mu.Unlock()

	if err := s.statusHub.BroadcastEvent(EventCycle, c); err != nil {
		s.logger.Warn("broadcast failed", "error", err)
	}
}

func (s *Server) controller() Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loop
}

// analyzeStatus maps loop errors onto HTTP status codes.
func analyzeStatus(err error) int {
	switch {
	case errors.Is(err, envision.ErrBusy):
		return fiber.StatusConflict
	case errors.Is(err, envision.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, envision.ErrClosed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

var (
	_ envision.Indicator = (*Server)(nil)
	_ envision.Observer  = (*Server)(nil)
)
