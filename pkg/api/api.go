package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/logmail/pkg/metrics"
	"github.com/telekom/logmail/pkg/stream"
	"github.com/telekom/logmail/pkg/system"
)

// StreamStatus is the view of a delivery stream the server reports on.
// *stream.Stream implements it.
type StreamStatus interface {
	State() stream.State
	Pending() int
	Transport() string
}

type Server struct {
	gin    *gin.Engine
	srv    *http.Server
	status StreamStatus
	log    *zap.Logger
}

// Status is the body of GET /api/status.
type Status struct {
	State     string `json:"state"`
	Pending   int    `json:"pending"`
	Transport string `json:"transport"`
	Version   string `json:"version"`
}

func NewServer(log *zap.Logger, listenAddress string, status StreamStatus, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
	)

	if debug {
		engine.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "OPTIONS"},
			MaxAge:          12 * time.Hour,
		}))
	}

	s := &Server{
		gin:    engine,
		status: status,
		log:    log.Named("api"),
		srv: &http.Server{
			Addr:              listenAddress,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	engine.GET("/healthz", s.healthz)
	engine.GET("/readyz", s.readyz)
	engine.GET("/api/status", s.getStatus)

	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Start binds the listen address and serves in the background. Bind errors
// are returned; errors after that are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.srv.Addr, err)
	}
	s.log.Info("Serving metrics and status", zap.String("address", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("ops server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// readyz reports ready only while the stream accepts writes.
func (s *Server) readyz(c *gin.Context) {
	if s.status == nil || s.status.State() != stream.StateOpen {
		c.String(http.StatusServiceUnavailable, "not ready")
		return
	}
	c.String(http.StatusOK, "ok")
}

func (s *Server) getStatus(c *gin.Context) {
	st := Status{Version: system.Version}
	if s.status != nil {
		st.State = s.status.State().String()
		st.Pending = s.status.Pending()
		st.Transport = s.status.Transport()
	}
	c.JSON(http.StatusOK, st)
}
