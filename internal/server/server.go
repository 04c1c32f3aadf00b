package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/mintledger/internal/middleware"
	"github.com/congo-pay/mintledger/internal/routes"
)

// Server wraps the Fiber application and the services behind it.
type Server struct {
	app      *fiber.App
	deps     routes.Deps
	services *routes.Services
}

// New builds the domain services and delegates route wiring to routes.Setup.
func New(deps routes.Deps) (*Server, error) {
	services, err := routes.NewServices(deps)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:               deps.Cfg.AppName,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             64 * 1024,
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(deps.Logger),
	})
	routes.Setup(app, deps, services)

	return &Server{app: app, deps: deps, services: services}, nil
}

// Services exposes the domain services, e.g. for background jobs.
func (s *Server) Services() *routes.Services {
	return s.services
}

// App returns the underlying Fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	s.deps.Logger.Info("http server listening", "address", s.deps.Cfg.Address())
	return s.app.Listen(s.deps.Cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
