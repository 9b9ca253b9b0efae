// Package ops serves the operational HTTP surface: a health endpoint that
// checks the databases and the consumer loop, and the Prometheus scrape
// endpoint. It is separate from the bot's Telegram-facing behavior and
// carries no moderation logic.
package ops

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Options configures the ops server.
type Options struct {
	Port    string
	GinMode string
	// Databases are pinged by /healthz, keyed by a short name that shows up
	// in the response body.
	Databases map[string]*gorm.DB
	// LastPeriodic reports the consumer's most recent periodic tick; older
	// than MaxPeriodicAge means the loop is stuck and /healthz fails.
	LastPeriodic   func() time.Time
	MaxPeriodicAge time.Duration
}

// Server is the ops HTTP server.
type Server struct {
	opts Options
	log  zerolog.Logger
	http *http.Server
}

// NewServer builds the ops server with the standard middleware chain:
// request id, access log, recovery, metrics.
func NewServer(opts Options, log zerolog.Logger) *Server {
	if opts.MaxPeriodicAge <= 0 {
		opts.MaxPeriodicAge = 30 * time.Second
	}
	if opts.GinMode != "" {
		gin.SetMode(opts.GinMode)
	}

	s := &Server{opts: opts, log: log.With().Str("component", "ops").Logger()}

	r := gin.New()
	r.Use(requestID())
	r.Use(accessLog())
	r.Use(recovery())
	r.Use(httpMetrics())

	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.http = &http.Server{
		Addr:              net.JoinHostPort("", opts.Port),
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("ops server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}

	for name, db := range s.opts.Databases {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}

	if s.opts.LastPeriodic != nil {
		age := time.Since(s.opts.LastPeriodic())
		if age > s.opts.MaxPeriodicAge {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["consumer"] = "stalled"
		} else {
			body["consumer"] = "ok"
		}
	}

	c.JSON(status, body)
}
