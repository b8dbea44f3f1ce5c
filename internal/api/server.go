package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cortex-x/go-cardlink-client/internal/config"
	"github.com/cortex-x/go-cardlink-client/internal/infra/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

type Server struct {
	echo    *echo.Echo
	config  *config.Config
	hub     *websocket.Hub
	handler *Handler
}

func NewServer(cfg *config.Config, hub *websocket.Hub, activator Activator, controller *Controller) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	handler := NewHandler(hub, activator, controller)

	// Routes
	e.GET("/health", handler.HealthCheck)
	e.GET("/ws", handler.WebSocketHandler)

	g := e.Group("/api")
	g.POST("/activate", handler.Activate)
	g.POST("/cancel", handler.Cancel)
	g.POST("/prescriptions", handler.RequestPrescriptions)
	g.POST("/prescriptions/select", handler.SelectPrescriptions)

	return &Server{
		echo:    e,
		config:  cfg,
		hub:     hub,
		handler: handler,
	}
}

// Start runs the UI hub and serves until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	log.Info().Str("addr", addr).Msg("starting agent server")

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler returns the router with all agent routes.
func (s *Server) Handler() http.Handler {
	return s.echo
}
