package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Taichi-iskw/transcript-index/internal/logger"
	"github.com/Taichi-iskw/transcript-index/internal/model"
	"github.com/Taichi-iskw/transcript-index/internal/orchestrator"
)

// MaxUploadBytes bounds a single upload request body
const MaxUploadBytes = 600 * 1000 * 1000

// Orchestrator is the slice of the orchestrator the HTTP surface drives
type Orchestrator interface {
	Status() model.Status
	Ready() bool
	DailyEnabled() bool
	TranscriberName() string
	TryStart(req orchestrator.IngestRequest) error
	Query(ctx context.Context, text string) (model.Answer, error)
}

// UploadLister lists uploaded video names
type UploadLister interface {
	List() ([]string, error)
}

// RunLister lists recorded ingestion runs
type RunLister interface {
	List(ctx context.Context, limit int) ([]*model.Run, error)
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Orchestrator Orchestrator
	Uploads      UploadLister
	UploadsDir   string
	Runs         RunLister // nil when no database is configured
	Port         int
	Log          *logger.Logger
	Out          io.Writer
}

// NewRouter builds the gin engine with every route registered
func NewRouter(opts StartOpts) *gin.Engine {
	if opts.Log == nil {
		opts.Log = logger.Discard()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(opts.Log))
	router.Use(cors())
	registerRoutes(router, opts)
	return router
}

// Start launches the HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Orchestrator == nil {
		return fmt.Errorf("server: orchestrator is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(opts)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Server running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		entry := log.WithRequest(c.Request)
		c.Next()

		entry = entry.WithFields(logrus.Fields{
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request handled")
	}
}

// cors allows browser clients from any origin
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "content-type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
