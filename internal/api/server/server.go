package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/resourcewatch/aggregator/internal/api/handlers"
	"github.com/resourcewatch/aggregator/internal/api/middleware"
	"github.com/resourcewatch/aggregator/internal/config"
)

type Server struct {
	config *config.ServerConfig
	logger *zap.Logger
	router *gin.Engine
	server *http.Server
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	watchHandler *handlers.WatchHandler,
	listHandler *handlers.ListHandler,
	statusHandler *handlers.StatusHandler,
) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.ErrorHandler(logger))
	router.Use(middleware.ErrorMapper(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORSMiddleware())

	var protected gin.IRoutes = router
	if !cfg.Auth.Disabled {
		auth, err := middleware.BearerAuth(cfg.Auth.TokenPath)
		if err != nil {
			return nil, errors.Wrap(err, "server: loading bearer token")
		}
		protected = router.Group("/", auth)
	}

	protected.GET("/watch", watchHandler.WatchResource)
	protected.GET("/list", listHandler.ListResources)
	protected.GET("/status", statusHandler.Status)

	return router, nil
}

func NewServer(
	cfg *config.Config,
	logger *zap.Logger,
	router *gin.Engine,
) *Server {
	return &Server{
		config: &cfg.Server,
		logger: logger,
		router: router,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.Int("port", s.config.Port))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	return s.Stop(ctx)
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}
