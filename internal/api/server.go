// Package api serves the journal's HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/uveral/diario/internal/blob"
	"github.com/uveral/diario/internal/deadman"
	derrors "github.com/uveral/diario/internal/errors"
	"github.com/uveral/diario/internal/health"
	"github.com/uveral/diario/internal/journal"
	"github.com/uveral/diario/internal/metrics"
	"github.com/uveral/diario/internal/requestid"
	"github.com/uveral/diario/internal/store"
)

// JournalService creates and lists entries.
type JournalService interface {
	Create(ctx context.Context, in journal.NewEntry) (store.Entry, error)
	List(ctx context.Context) ([]store.Entry, error)
}

// AudioStore stores and serves uploaded audio.
type AudioStore interface {
	Put(ctx context.Context, key string, r io.Reader, meta blob.Meta) (blob.Meta, error)
	Get(ctx context.Context, key string) (*blob.Object, error)
}

// DeadmanService exposes the owner-facing switch operations.
type DeadmanService interface {
	Status(ctx context.Context) (deadman.Report, error)
	CheckIn(ctx context.Context) (time.Time, error)
	UpdateSettings(ctx context.Context, u deadman.SettingsUpdate) (deadman.Settings, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Journal JournalService
	Audio   AudioStore
	Deadman DeadmanService
	Runner  deadman.Runner
	Checker *health.Checker
	Metrics *metrics.Metrics
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	ListenAddr     string
	CronSecret     string
	CORSOrigins    string
	RateLimit      RateLimitConfig
	MaxUploadBytes int
}

// Server is the journal API Fiber application.
type Server struct {
	app    *fiber.App
	deps   Deps
	config ServerConfig
	logger zerolog.Logger
}

// NewServer creates and configures the HTTP server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	logger = logger.With().Str("component", "api").Logger()

	s := &Server{
		deps:   deps,
		config: cfg,
		logger: logger,
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             cfg.MaxUploadBytes,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(func(c *fiber.Ctx) error {
		ctx, reqID := requestid.Ensure(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if s.config.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: s.config.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, PUT, OPTIONS",
		}))
	}

	if s.config.RateLimit.RequestsPerSecond > 0 {
		s.app.Use(NewRateLimitMiddleware(s.config.RateLimit))
	}

	s.app.Use(s.observe)
}

// observe logs and measures every request. Handler errors are rendered
// here so the recorded status is the one sent.
func (s *Server) observe(c *fiber.Ctx) error {
	start := time.Now()
	if err := c.Next(); err != nil {
		if herr := s.handleError(c, err); herr != nil {
			return herr
		}
	}

	if isProbe(c.Path()) {
		return nil
	}

	status := c.Response().StatusCode()
	elapsed := time.Since(start)
	route := c.Route().Path
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveRequest(c.Method(), route, status, elapsed.Seconds())
	}

	s.logger.Info().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", status).
		Dur("duration", elapsed).
		Str("ip", c.IP()).
		Str("request_id", requestid.FromContext(c.UserContext())).
		Msg("api request")
	return nil
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", health.Liveness)
	if s.deps.Checker != nil {
		s.app.Get("/readyz", s.deps.Checker.Readiness)
	}
	if s.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}

	api := s.app.Group("/api")

	api.Get("/entries", s.listEntries)
	api.Post("/entries", s.createEntry)

	api.Post("/audio", s.uploadAudio)
	api.Get("/audio/*", s.getAudio)

	api.Get("/deadman", s.getDeadman)
	api.Put("/deadman", s.updateDeadman)
	api.Post("/deadman/check-in", s.checkIn)

	api.Post("/cron/deadman", NewCronAuthMiddleware(s.config.CronSecret, s.logger), s.runDeadman)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("http server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("http server shutting down")
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	errType := "internal_error"
	title := "Internal Server Error"

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
		errType = "http_error"
		title = utils.StatusMessage(code)
	case errors.Is(err, derrors.ErrInvalidInput):
		code, errType, title = fiber.StatusBadRequest, "invalid_input", "Bad Request"
	case errors.Is(err, derrors.ErrNotFound):
		code, errType, title = fiber.StatusNotFound, "not_found", "Not Found"
	case errors.Is(err, derrors.ErrUnauthorized):
		code, errType, title = fiber.StatusUnauthorized, "unauthorized", "Unauthorized"
	case errors.Is(err, deadman.ErrDelivery):
		code, errType, title = fiber.StatusBadGateway, "delivery_failed", "Bad Gateway"
	}

	detail := err.Error()
	if code >= fiber.StatusInternalServerError {
		s.logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("request failed")
		if code == fiber.StatusInternalServerError {
			detail = "An internal error occurred"
		}
	}

	return problemResponse(c, code, errType, title, detail)
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}
