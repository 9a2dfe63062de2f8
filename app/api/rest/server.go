package rest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"meetwise/app/booking"
	"meetwise/app/config"
	"meetwise/app/service/conversation"
	"meetwise/app/service/store"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
	"github.com/samber/oops"
)

const shutdownTimeout = 10 * time.Second

var _ do.Shutdownable = (*Server)(nil)

// Conversations is the part of the conversation service served over HTTP.
type Conversations interface {
	HandleMessage(ctx context.Context, conversationID, text string) (*conversation.Reply, error)
	History(ctx context.Context, conversationID string) ([]booking.Message, error)
	State(ctx context.Context, conversationID string) (booking.State, error)
	Recent(ctx context.Context, limit int) ([]store.Summary, error)
	Events(ctx context.Context, conversationID string) ([]conversation.Event, error)
	Clear(ctx context.Context, conversationID string) error
	Health(ctx context.Context) conversation.Health
	PingStore(ctx context.Context) error
}

type Server struct {
	app  *fiber.App
	addr string

	shutdownOnce sync.Once
	shutdownErr  error
}

func New(di *do.Injector) (*Server, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewServer(do.MustInvoke[*conversation.Service](di), cfg.HTTP.Addr), nil
}

func NewServer(conversations Conversations, addr string) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "meetwise",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	h := &handlers{
		conversations: conversations,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}

	app.Get("/health", h.health)
	app.Get("/database/status", h.databaseStatus)
	app.Post("/chat", h.chat)
	app.Get("/conversations", h.recent)
	app.Delete("/conversations/:id", h.clear)
	app.Get("/conversations/:id/history", h.history)
	app.Get("/conversations/:id/state", h.state)
	app.Get("/calendar/events", h.events)

	return &Server{app: app, addr: addr}
}

// App exposes the router, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens until ctx is done, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.addr)
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		return oops.In("rest").With("addr", s.addr).Wrapf(err, "listen")
	case <-ctx.Done():
	}

	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			s.shutdownErr = oops.In("rest").Wrapf(err, "shutdown")
		}
	})
	return s.shutdownErr
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(errorResponse{Success: false, Error: fiberErr.Message})
	}

	slog.Error("HTTP request failed",
		"method", c.Method(),
		"path", c.Path(),
		"error", err,
	)

	return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Success: false, Error: "internal error"})
}
