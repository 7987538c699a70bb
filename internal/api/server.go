// Package api exposes the hub over HTTP for the mobile app and bin cameras.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ecotionbuddy/binhub/internal/imagestore"
	"github.com/ecotionbuddy/binhub/internal/ledger"
	"github.com/ecotionbuddy/binhub/internal/logging"
	"github.com/ecotionbuddy/binhub/internal/mission"
	"github.com/ecotionbuddy/binhub/internal/session"
	"github.com/ecotionbuddy/binhub/internal/upload"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Name is reported by the root endpoint.
const Name = "EcotionBuddy Backend"

// DefaultMaxUploadBytes caps an upload body when Deps.MaxUploadBytes is zero.
const DefaultMaxUploadBytes = 16 << 20

// Deps holds the components the handlers call into.
type Deps struct {
	DB                *gorm.DB
	Sessions          *session.Manager
	Uploads           *upload.Coordinator
	Images            *imagestore.Store
	Ledger            *ledger.Ledger
	Missions          *mission.Tracker
	ManualClaimPoints int
	MaxUploadBytes    int64
	Log               *slog.Logger
}

// NewRouter builds the gin engine with every route registered. The caller
// picks the gin mode.
func NewRouter(d Deps) *gin.Engine {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = DefaultMaxUploadBytes
	}
	d.Log = logging.OrDiscard(d.Log).With("component", "api")

	router := gin.New()
	router.Use(gin.Recovery(), requestLog(d.Log))
	registerRoutes(router, d)
	return router
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Addr            string
	Handler         http.Handler
	ShutdownTimeout time.Duration
	Log             *slog.Logger
}

// Start runs the HTTP server. It blocks until ctx is cancelled, then shuts
// down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Handler == nil {
		return fmt.Errorf("api: handler is required")
	}
	if opts.Addr == "" {
		opts.Addr = ":8000"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	log := logging.OrDiscard(opts.Log).With("component", "api")

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           opts.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
	}()

	log.Info("http server listening", "addr", opts.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	<-done
	return nil
}

func requestLog(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}
