package admin

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shroudns/shroudns/internal/blocklist"
)

// Server is the management REST API server.
type Server struct {
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// New builds the admin server bound to host:port, backed by bl for
// blocklist operations and statsFn for the /stats endpoint.
func New(host string, port int, apiKey string, bl *blocklist.Blocklist, statsFn StatsFunc, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(slogRequestLogger(logger))

	h := NewHandler(bl, statsFn, logger)
	RegisterRoutes(engine, h, apiKey)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{logger: logger, engine: engine, httpServer: httpServer}
}

// Addr returns the server's actual bound address once ListenAndServe has
// started, or its configured address beforehand.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// ListenAndServe binds the configured address and serves until Shutdown is
// called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
