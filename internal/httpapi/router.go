package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"signal-intel/internal/metrics"
)

// RouterConfig tunes route registration.
type RouterConfig struct {
	// TriggerToken guards ingest and trigger routes when set.
	TriggerToken string
	Production   bool
}

// NewRouter wires every route onto a fresh gin engine.
func NewRouter(ops Operations, reg *metrics.Registry, cfg RouterConfig, logger zerolog.Logger) *gin.Engine {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if reg != nil {
		router.GET("/metrics", gin.WrapH(reg.Handler()))
	}

	h := NewHandler(ops, logger)
	api := router.Group("/api")
	{
		api.GET("/signals", h.Signals)
		api.GET("/sources", h.Sources)

		guarded := api.Group("")
		guarded.Use(bearerAuth(cfg.TriggerToken))
		guarded.POST("/ingest", h.Ingest)

		trigger := guarded.Group("/trigger")
		trigger.POST("/collect", h.TriggerCollect)
		trigger.POST("/process", h.TriggerProcess)
		trigger.POST("/validate", h.TriggerValidate)
		trigger.POST("/learn", h.TriggerLearn)
	}
	return router
}

func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		status := c.Writer.Status()
		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("elapsed", time.Since(started)).
			Msg("request handled")
	}
}

// Server runs the API until its context is cancelled.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration, logger zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger.With().Str("component", "http_server").Logger(),
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("http server starting")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}
