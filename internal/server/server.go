// Package server is the HTTP front end: a JSON and Server-Sent-Events API
// over cookie-bound sessions.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"docrag/internal/observability"
	"docrag/internal/service"
	"docrag/internal/session"
)

const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxUploadBytes  = 64 << 20
)

// Options configure a Server. Zero values take defaults; a zero IdleTTL
// keeps sessions until shutdown.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	CookieSecure    bool
	IdleTTL         time.Duration
}

type Server struct {
	opts     Options
	svc      *service.Service
	sessions *session.Manager
	metrics  *observability.Metrics
	log      logrus.FieldLogger
	router   *gin.Engine
}

// New wires the routes. metrics and log may be nil.
func New(opts Options, svc *service.Service, sessions *session.Manager, metrics *observability.Metrics, log logrus.FieldLogger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	s := &Server{
		opts:     opts,
		svc:      svc,
		sessions: sessions,
		metrics:  metrics,
		log:      log,
		router:   gin.New(),
	}
	s.router.MaxMultipartMemory = 8 << 20
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(accessLogMiddleware(s.log))
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.health)
	if s.metrics != nil {
		s.router.GET("/metrics", s.metrics.Handler())
	}

	api := s.router.Group("/api")
	api.Use(s.sessionMiddleware())
	api.GET("/session", s.getSession)
	api.GET("/sources", s.listSources)
	api.POST("/sources", s.addSources)
	api.POST("/chat", s.chat)
	api.POST("/chat/clear", s.clearChat)
	api.POST("/reset", s.reset)
}

// Handler returns the router, for tests and for embedding in another server.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully and resets
// every live session.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	jctx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	if s.opts.IdleTTL > 0 {
		go s.janitor(jctx)
	}
	s.log.WithField("addr", s.opts.Addr).Info("server listening")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	stopJanitor()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.log.Info("shutting down")
	err := srv.Shutdown(shutdownCtx)
	if rerr := s.ResetAll(shutdownCtx); rerr != nil {
		err = errors.Join(err, rerr)
	}
	return err
}

// ResetAll resets and forgets every live session.
func (s *Server) ResetAll(ctx context.Context) error {
	var errs []error
	s.sessions.Range(func(sess *session.Session) bool {
		if err := s.svc.Retire(ctx, sess); err != nil {
			errs = append(errs, err)
		}
		s.sessions.Delete(sess.ID())
		return true
	})
	s.updateSessionGauge()
	return errors.Join(errs...)
}

func (s *Server) updateSessionGauge() {
	if s.metrics != nil {
		s.metrics.SetSessions(s.sessions.Len())
	}
}
