package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Server wraps the echo instance serving the local API.
type Server struct {
	echo   *echo.Echo
	addr   string
	logger *zap.Logger
}

// NewServer builds the HTTP server with routes mounted.
func NewServer(h *Handler, addr string, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	h.Register(e)
	return &Server{echo: e, addr: addr, logger: logger}
}

// Start blocks serving requests until Stop is called.
func (s *Server) Start() error {
	if s.logger != nil {
		s.logger.Info("api listening", zap.String("addr", s.addr))
	}
	return s.echo.Start(s.addr)
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) {
	_ = s.echo.Shutdown(ctx)
}
