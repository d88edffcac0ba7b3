package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"estados/config"
	"estados/internal/handler"
	"estados/internal/middleware"
	"estados/internal/redis"
	"estados/internal/services"
	"estados/internal/transport/httpdto"
	"estados/internal/websocket"
	"estados/pkg/logger"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Estado    *handler.EstadoHandler
	Viewer    *handler.ViewerHandler
	Upload    *handler.UploadHandler
	Session   *handler.SessionHandler
	WebSocket *websocket.Handler
}

// Deps are the non-handler collaborators routes need. Limiter may be nil to
// disable rate limiting; Health may be nil to always report healthy.
type Deps struct {
	Auth    *services.AuthService
	Limiter middleware.Limiter
	Health  func(ctx context.Context) error
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

// Engine exposes the router, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) SetupRoutes(handlers *Handlers, deps Deps) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware(s.config.CORSAllowedOrigins))
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	v1 := s.engine.Group("/v1", middleware.AuthMiddleware(deps.Auth))

	estados := v1.Group("/estados")
	{
		estados.GET("", handlers.Estado.List)
		estados.POST("", middleware.RateLimitMiddleware(deps.Limiter, redis.ActionCreate, s.logger), handlers.Estado.Create)
		estados.DELETE("/:id", handlers.Estado.Delete)

		estados.POST("/:id/views", handlers.Estado.RegisterView)
		estados.GET("/:id/views", handlers.Estado.ViewState)
		estados.POST("/:id/views/refresh", handlers.Estado.RefreshViews)

		estados.POST("/:id/reactions", middleware.RateLimitMiddleware(deps.Limiter, redis.ActionReaction, s.logger), handlers.Estado.AddReaction)
		estados.GET("/:id/reactions", handlers.Estado.ReactionState)
		estados.POST("/:id/reactions/refresh", handlers.Estado.RefreshReactions)
	}

	viewer := v1.Group("/viewer")
	{
		viewer.GET("", handlers.Viewer.State)
		viewer.POST("/open", handlers.Viewer.Open)
		viewer.POST("/key", handlers.Viewer.Key)
		viewer.POST("/goto", handlers.Viewer.GoTo)
		viewer.POST("/close", handlers.Viewer.Close)
	}

	v1.POST("/uploads/images", handlers.Upload.PresignImage)
	v1.POST("/session/signout", handlers.Session.SignOut)

	if handlers.WebSocket != nil {
		v1.GET("/ws", handlers.WebSocket.Connect)
	}
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	go func() {
		s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Error in starting the server: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		return err
	}

	s.logger.Infof("Server stopped gracefully")
	return nil
}
