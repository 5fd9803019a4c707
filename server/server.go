// Package server exposes configured chains over HTTP: invoke, batch and SSE
// stream endpoints, JSON schemas and a websocket per route.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/RanFeng/ilog"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/xhad/chainserve/internal/models"
	"github.com/xhad/chainserve/internal/observability"
	"github.com/xhad/chainserve/pkg/pipeline"
)

// Info is shown on the index page.
type Info struct {
	Title       string
	Version     string
	Description string
}

var endpoints = []string{"invoke", "batch", "stream", "input_schema", "output_schema", "config_schema", "ws"}

type Server struct {
	echo     *echo.Echo
	info     Info
	routes   []pipeline.Route
	upgrader websocket.Upgrader
	docs     vectorstores.VectorStore
	// ShutdownTimeout bounds how long in-flight requests may take to finish.
	ShutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithDocumentStore serves POST /add, which indexes posted documents into st.
func WithDocumentStore(st vectorstores.VectorStore) Option {
	return func(s *Server) {
		s.docs = st
	}
}

func New(info Info, routes []pipeline.Route, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		info:   info,
		routes: routes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ShutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.Use(middleware.Recover())
	e.Use(requestLogger())
	e.Use(tracing)

	e.GET("/", s.index)
	e.GET("/health", s.health)
	if s.docs != nil {
		e.POST("/add", s.addDocuments)
	}
	for _, r := range routes {
		s.register(r)
	}
	return s
}

func (s *Server) register(r pipeline.Route) {
	g := s.echo.Group(r.Path)
	g.POST("/invoke", s.invoke(r))
	g.POST("/batch", s.batch(r))
	g.POST("/stream", s.stream(r))
	g.GET("/input_schema", s.inputSchema(r))
	g.GET("/output_schema", s.outputSchema(r))
	g.GET("/config_schema", s.configSchema(r))
	g.GET("/ws", s.websocket(r))
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()
	ilog.EventInfo(ctx, "server_started", "addr", addr, "routes", len(s.routes))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	ilog.EventInfo(ctx, "server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) index(c echo.Context) error {
	resp := models.IndexResponse{
		Title:       s.info.Title,
		Version:     s.info.Version,
		Description: s.info.Description,
		Routes:      make([]models.RouteInfo, 0, len(s.routes)),
	}
	for _, r := range s.routes {
		eps := make([]string, len(endpoints))
		for i, ep := range endpoints {
			eps[i] = r.Path + "/" + ep
		}
		resp.Routes = append(resp.Routes, models.RouteInfo{
			Path:      r.Path,
			Name:      r.Chain.Name(),
			Kind:      r.Kind,
			Endpoints: eps,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) health(c echo.Context) error {
	paths := make([]string, len(s.routes))
	for i, r := range s.routes {
		paths[i] = r.Path
	}
	return c.JSON(http.StatusOK, models.HealthResponse{Status: "healthy", Routes: paths})
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ctx := c.Request().Context()
			if v.Error != nil {
				ilog.EventWarn(ctx, "http_request", "method", v.Method, "uri", v.URI,
					"status", v.Status, "latency", v.Latency.String(), "err", v.Error)
				return nil
			}
			ilog.EventInfo(ctx, "http_request", "method", v.Method, "uri", v.URI,
				"status", v.Status, "latency", v.Latency.String())
			return nil
		},
	})
}

func tracing(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := observability.StartRequestSpan(c.Request(), c.Path())
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)

		status := c.Response().Status
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
		}
		observability.EndRequestSpan(span, status, err)
		return err
	}
}
