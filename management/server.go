package management

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Tsukikage7/integration-kit/logger"
)

// Server 管理接口 HTTP 服务器.
type Server struct {
	addr    string
	handler http.Handler
	log     logger.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// ServerOption 服务器选项.
type ServerOption func(*Server)

// WithServerLogger 设置日志记录器.
func WithServerLogger(log logger.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithTimeouts 设置读、写与空闲超时.
func WithTimeouts(read, write, idle time.Duration) ServerOption {
	return func(s *Server) {
		s.readTimeout, s.writeTimeout, s.idleTimeout = read, write, idle
	}
}

// NewServer 创建服务器.
//
//	h, _ := management.NewHandler(eng, management.WithMetrics(eng.Metrics()))
//	srv, _ := management.NewServer(":8081", h)
func NewServer(addr string, handler http.Handler, opts ...ServerOption) (*Server, error) {
	if addr == "" {
		return nil, ErrAddrEmpty
	}
	s := &Server{
		addr:         addr,
		handler:      handler,
		readTimeout:  30 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  120 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrNop(s.log)
	return s, nil
}

// Start 监听并服务，阻塞到服务器关闭或 ctx 结束.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	s.mu.Lock()
	s.server, s.listener = srv, ln
	s.mu.Unlock()

	s.log.Infof("[Management] HTTP 服务器启动: addr=%s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}
	return nil
}

// Stop 优雅关闭服务器.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.log.Info("[Management] HTTP 服务器停止中")
	return srv.Shutdown(ctx)
}

// Name 返回服务名称.
func (s *Server) Name() string {
	return "management"
}

// Addr 返回监听地址，启动后为实际地址.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
