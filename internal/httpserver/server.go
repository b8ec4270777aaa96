package httpserver

import (
	"context"
	_ "embed"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"posecall/internal/domain"
	"posecall/internal/presenter"
	"posecall/internal/usecase"
)

//go:embed static/index.html
var indexPage []byte

// Controller is the listening session driven by the API.
type Controller interface {
	Start() error
	Stop() error
	Reenable() error
	Snapshot() domain.Snapshot
}

// PoseSource lists the catalog.
type PoseSource interface {
	All() []domain.PoseEntry
}

// ErrorResponse is returned when a listening command fails. View carries the
// state after the failure.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Message string          `json:"message,omitempty"`
	View    *presenter.View `json:"view,omitempty"`
}

// Server exposes the listening controller over HTTP and websockets.
type Server struct {
	echo       *echo.Echo
	controller Controller
	poses      PoseSource
	renderer   Renderer
	hub        *Hub
	logger     *zap.Logger
}

func New(controller Controller, poses PoseSource, renderer Renderer, hub *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogMethod: true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	s := &Server{
		echo:       e,
		controller: controller,
		poses:      poses,
		renderer:   renderer,
		hub:        hub,
		logger:     logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/", s.index)
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "posecall",
		})
	})

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.status)
	v1.GET("/poses", s.listPoses)
	v1.POST("/listening/start", s.startListening)
	v1.POST("/listening/stop", s.stopListening)
	v1.POST("/listening/reenable", s.reenable)

	s.echo.GET("/ws", s.websocket)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) index(c echo.Context) error {
	return c.HTMLBlob(http.StatusOK, indexPage)
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, s.view())
}

func (s *Server) listPoses(c echo.Context) error {
	entries := s.poses.All()
	cards := make([]presenter.PoseCard, 0, len(entries))
	for _, entry := range entries {
		cards = append(cards, s.renderer.Card(entry))
	}
	return c.JSON(http.StatusOK, cards)
}

func (s *Server) startListening(c echo.Context) error {
	if err := s.controller.Start(); err != nil {
		return s.commandError(c, "start", err)
	}
	return c.JSON(http.StatusOK, s.view())
}

func (s *Server) stopListening(c echo.Context) error {
	if err := s.controller.Stop(); err != nil {
		return s.commandError(c, "stop", err)
	}
	return c.JSON(http.StatusOK, s.view())
}

func (s *Server) reenable(c echo.Context) error {
	if err := s.controller.Reenable(); err != nil {
		return s.commandError(c, "reenable", err)
	}
	return c.JSON(http.StatusOK, s.view())
}

func (s *Server) websocket(c echo.Context) error {
	if !isUpgrade(c.Request()) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "upgrade_required",
			Message: "websocket upgrade required",
		})
	}
	return s.hub.ServeWS(c)
}

func (s *Server) commandError(c echo.Context, command string, err error) error {
	view := s.view()
	response := ErrorResponse{Message: err.Error(), View: &view}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, usecase.ErrServiceUnavailable):
		status = http.StatusConflict
		response.Error = "service_unavailable"
	case errors.Is(err, usecase.ErrStartRejected):
		status = http.StatusConflict
		response.Error = "start_rejected"
	case errors.Is(err, usecase.ErrControllerClosed):
		status = http.StatusServiceUnavailable
		response.Error = "shutting_down"
	default:
		response.Error = "internal_error"
	}

	s.logger.Warn("listening command failed", zap.String("command", command), zap.Error(err))
	return c.JSON(status, response)
}

func (s *Server) view() presenter.View {
	return s.renderer.Render(s.controller.Snapshot())
}
