// Package admin serves the optional read-only HTTP view of a running session.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/peerchat/internal/observability"
	"github.com/danmuck/peerchat/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	component = "peerchat-admin"
	version   = "0.0.1"

	shutdownTimeout = 5 * time.Second
)

var ErrListen = errors.New("admin: listen failed")

// StatusSource is satisfied by *session.Session.
type StatusSource interface {
	Status() session.Status
}

type Server struct {
	Addr    string
	Started time.Time

	router *gin.Engine
	source StatusSource
	log    zerolog.Logger
}

func New(addr string, corsOrigins []string, source StatusSource, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	// stdout belongs to the chat console; keep gin's debug route dump off it.
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(component))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:    addr,
		Started: time.Now(),
		router:  r,
		source:  source,
		log:     logger,
	}
	s.registerRoutes()
	return s
}

// SetSource attaches the session once it exists. Call it before Serve.
func (s *Server) SetSource(source StatusSource) {
	s.source = source
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.Started).String(),
			"component": component,
			"version":   version,
		})
	})

	s.router.GET("/session", func(c *gin.Context) {
		if s.source == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no session"})
			return
		}
		c.JSON(http.StatusOK, s.source.Status())
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Listen binds Addr. Binding up front lets the caller fail before a peer is
// accepted.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrListen, s.Addr, err)
	}
	return ln, nil
}

// Serve answers on ln until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("admin server listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info().Msg("admin server stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
