package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/internal/handler"
	"github.com/infn-datacloud/cvmfs-publisher/internal/middleware"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// Server is the read-only operational endpoint.
type Server struct {
	echo          *echo.Echo
	cfg           config.ServerConfig
	logger        *logger.Logger
	statusHandler *handler.StatusHandler
	healthHandler *handler.HealthHandler
}

func New(
	cfg config.ServerConfig,
	log *logger.Logger,
	statusHandler *handler.StatusHandler,
	healthHandler *handler.HealthHandler,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:          e,
		cfg:           cfg,
		logger:        log,
		statusHandler: statusHandler,
		healthHandler: healthHandler,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	s.logger.Info(context.Background(), "Starting HTTP server", "address", addr)

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echoMiddleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.Logging(s.logger))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler.Check)
	s.echo.GET("/status", s.statusHandler.Status)
	s.echo.GET("/repositories/:name/outcomes", s.statusHandler.Outcomes)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}
