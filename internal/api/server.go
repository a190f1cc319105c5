package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-assistant/internal/conversation"
	"github.com/p-blackswan/project-assistant/internal/filesync"
	"github.com/p-blackswan/project-assistant/internal/health"
	"github.com/p-blackswan/project-assistant/internal/metrics"
	"github.com/p-blackswan/project-assistant/internal/project"
	"github.com/p-blackswan/project-assistant/internal/requestid"
)

// EventHandler reacts to conversation host events.
type EventHandler interface {
	OnMessage(ctx context.Context, msg conversation.Message) error
	OnFileEvent(ctx context.Context, caller project.Caller, ev filesync.FileEvent) error
	OnParticipant(ctx context.Context, conversationID string, p conversation.Participant, joined bool) error
	OnConversationCreated(ctx context.Context, info conversation.Info) error
}

// Queue runs event handling asynchronously, serialized per conversation.
type Queue interface {
	Submit(ctx context.Context, conversationID, name string, fn func(ctx context.Context) error) error
}

// ProjectReader loads project records by ID.
type ProjectReader interface {
	LoadInfo(projectID string) (*project.ProjectInfo, error)
	LoadBrief(projectID string) (*project.ProjectBrief, error)
	LoadWhiteboard(projectID string) (*project.ProjectWhiteboard, error)
	LoadLog(projectID string) (*project.ProjectLog, error)
	LoadRequests(projectID string) ([]*project.InformationRequest, error)
	LoadFiles(projectID string) ([]project.ProjectFile, error)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Host        conversation.Host
	Events      *conversation.EventFeed
	Handler     EventHandler
	Queue       Queue
	Projects    ProjectReader
	Checker     *health.Checker
	Metrics     *metrics.Metrics
	AssistantID string
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	AuthConfig  AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
}

// Server is the API Fiber application.
type Server struct {
	app    *fiber.App
	deps   Deps
	config ServerConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewServer creates and configures the API server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "api.server").Logger()
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             16 * 1024 * 1024,
	})

	s := &Server{
		app:    app,
		deps:   deps,
		config: cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.setupMiddleware(cfg)
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(func(c *fiber.Ctx) error {
		reqID := requestid.Ensure(c.Get(requestid.Header))
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID, X-User-Name",
			AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, s.logger))

	s.app.Use(func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("duration", time.Since(start)).
			Str("request_id", requestIDOf(c)).
			Msg("api request")
		return err
	})
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", s.Liveness)
	s.app.Get("/readyz", s.Readiness)
	if s.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}

	v1 := s.app.Group("/v1")

	conv := v1.Group("/conversations")
	conv.Post("/", s.CreateConversation)
	conv.Get("/:id", s.GetConversation)
	conv.Post("/:id/messages", s.PostMessage)
	conv.Get("/:id/messages", s.ListMessages)
	conv.Post("/:id/participants", s.UpdateParticipant)
	conv.Put("/:id/files/:name", s.PutFile)
	conv.Delete("/:id/files/:name", s.DeleteFile)
	conv.Get("/:id/events", s.ListEvents)

	proj := v1.Group("/projects")
	proj.Get("/:id", s.GetProject)
	proj.Get("/:id/brief", s.GetBrief)
	proj.Get("/:id/whiteboard", s.GetWhiteboard)
	proj.Get("/:id/log", s.GetLog)
	proj.Get("/:id/requests", s.ListRequests)
	proj.Get("/:id/files", s.ListFiles)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// Liveness handles GET /healthz.
func (s *Server) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (s *Server) Readiness(c *fiber.Ctx) error {
	if s.deps.Checker == nil {
		return c.JSON(ReadinessResponse{Status: "ready"})
	}
	results := s.deps.Checker.RunAll(c.UserContext())
	resp := ReadinessResponse{Status: "ready", Checks: make(map[string]string, len(results))}
	for name, st := range results {
		resp.Checks[name] = string(st)
	}
	if !health.Ready(results) {
		resp.Status = "not_ready"
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}

func requestIDOf(c *fiber.Ctx) string {
	id, _ := c.Locals("request_id").(string)
	return id
}

// requestContext returns the request's context carrying its request ID.
func requestContext(c *fiber.Ctx) context.Context {
	return requestid.WithRequestID(c.UserContext(), requestIDOf(c))
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		typ, detail := "http_error", err.Error()
		if code == fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Str("request_id", requestIDOf(c)).
				Msg("unhandled error")
			typ, detail = "internal_error", "An internal error occurred"
		}

		return problemResponse(c, code, typ, statusTitle(code), detail)
	}
}
