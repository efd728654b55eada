// Package httpapi provides the REST and MCP HTTP surface of cortexd.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cortexd/internal/apperr"
	"github.com/fyrsmithlabs/cortexd/internal/cache"
	"github.com/fyrsmithlabs/cortexd/internal/config"
	"github.com/fyrsmithlabs/cortexd/internal/ingest"
	"github.com/fyrsmithlabs/cortexd/internal/mcp"
	"github.com/fyrsmithlabs/cortexd/internal/promptgen"
	"github.com/fyrsmithlabs/cortexd/internal/retrieval"
	"github.com/fyrsmithlabs/cortexd/internal/store"
	"github.com/fyrsmithlabs/cortexd/internal/vectorindex"
)

// Deps are the services the HTTP surface exposes.
type Deps struct {
	Store     *store.Store
	Index     *vectorindex.Index
	Ingest    *ingest.Service
	Search    *retrieval.Service
	PromptGen *promptgen.Service
	Cache     *cache.Cache
	MCP       *mcp.Handler

	// Health reporting.
	Version            string
	ChatConfigured     bool
	EmbedderConfigured bool
}

// Server wraps echo with the cortexd routes.
type Server struct {
	echo   *echo.Echo
	cfg    config.ServerConfig
	deps   Deps
	logger *zap.Logger
}

// NewServer builds the server with middleware and routes registered.
func NewServer(cfg config.ServerConfig, deps Deps, logger *zap.Logger) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Origins(),
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		AllowCredentials: true,
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{echo: e, cfg: cfg, deps: deps, logger: logger}
	e.HTTPErrorHandler = s.handleError
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.POST("/ingest", s.handleIngest)
	api.POST("/ingest/batch", s.handleIngestBatch)
	api.POST("/ingest/reproject", s.handleReproject)

	api.GET("/chats", s.handleListChats)
	api.GET("/chats/visualization", s.handleVisualization)
	api.GET("/chats/:id", s.handleGetChat)
	api.DELETE("/chats/:id", s.handleDeleteChat)

	api.POST("/search", s.handleSearch)
	api.GET("/search/stats", s.handleSearchStats)

	api.POST("/prompt/generate", s.handleGeneratePrompt)

	api.DELETE("/cache", s.handleClearCache)
	api.DELETE("/cache/:kind", s.handleClearCacheKind)

	s.echo.POST("/mcp", s.handleMCPPost)
	s.echo.GET("/sse", s.handleSSE)
	s.echo.POST("/sse", s.handleSSEPost)
}

// errorBody is the JSON error envelope the API returns for failures.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleError maps the error taxonomy onto HTTP statuses. echo.HTTPError
// passes through unchanged so framework-level 404/405 bodies stay intact.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	code := string(apperr.KindInternal)
	msg := apperr.Message(err)

	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		msg = fmt.Sprintf("%v", he.Message)
	} else {
		kind := apperr.KindOf(err)
		status = apperr.HTTPStatus(kind)
		code = string(kind)
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("uri", c.Request().RequestURI),
			zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := s.cfg.Addr()
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
