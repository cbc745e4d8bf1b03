package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/any-hub/reverse-proxy/internal/config"
	"github.com/any-hub/reverse-proxy/internal/route"
)

// State 表示 Server 的生命周期阶段。
type State int

const (
	StateIdle State = iota
	StateListening
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateClosing:
		return "closing"
	default:
		return "idle"
	}
}

// readHeaderTimeout 限制慢速客户端发送请求头的时间。
const readHeaderTimeout = 30 * time.Second

// Server 是按 Host 头分发请求的反向代理服务器。
// listener 与转发引擎在 Listen 时一起创建，在 Close 完成时一起销毁；
// 关闭后的 Server 回到 idle，可以再次 Listen。
type Server struct {
	address string
	port    int
	table   *route.Table
	options config.ForwardOptions
	ssl     *config.SSLConfig

	obs observers

	mu         sync.Mutex
	state      State
	listener   net.Listener
	httpServer *http.Server
	forwarder  *Forwarder
	closed     chan struct{}
}

// NewServer 根据服务器定义构造 Server，路由规范化失败时返回错误。
func NewServer(def config.ServerDefinition) (*Server, error) {
	table, err := route.NewTable(def.Routes, def.Target)
	if err != nil {
		return nil, err
	}
	address := def.Address
	if address == "" {
		address = config.DefaultAddress
	}
	port := def.Port
	if port < 0 {
		port = 0
	}
	return &Server{
		address: address,
		port:    port,
		table:   table,
		options: def.Proxy,
		ssl:     def.SSL,
	}, nil
}

// Routes 返回服务器使用的路由表。
func (s *Server) Routes() *route.Table {
	return s.table
}

// Secure 表示服务器是否以 TLS 方式监听。
func (s *Server) Secure() bool {
	return !s.ssl.Empty()
}

// State 返回当前生命周期阶段。
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Listening 当且仅当 listener 存在且已绑定时为 true。
func (s *Server) Listening() bool {
	return s.State() == StateListening
}

// Address 在监听前返回配置值，监听后返回实际绑定的地址。
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.IP.String()
		}
	}
	return s.address
}

// Port 在监听前返回配置值，监听后返回内核分配的端口（支持 port 0）。
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundPort()
}

func (s *Server) boundPort() int {
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.port
}

// Listen 绑定端口并开始服务，返回实际端口。
// 已在监听时直接返回当前端口且不发出信号；并发调用由互斥锁串行化，后到者得到同一端口。
// 绑定失败时保持 idle，发出 error 信号并返回错误。
func (s *Server) Listen(ctx context.Context) (int, error) {
	s.mu.Lock()
	for s.state == StateClosing {
		done := s.closed
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		s.mu.Lock()
	}
	if s.state == StateListening {
		port := s.boundPort()
		s.mu.Unlock()
		return port, nil
	}

	ln, err := s.bind(ctx)
	if err != nil {
		s.mu.Unlock()
		s.obs.emitError(err)
		return 0, err
	}

	forwarder := NewForwarder(s.options, s.obs.emitError)
	srv := &http.Server{
		Handler:           s.handler(forwarder),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.listener = ln
	s.httpServer = srv
	s.forwarder = forwarder
	s.state = StateListening
	port := s.boundPort()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.obs.emitError(err)
		}
	}()

	s.obs.emitListening()
	return port, nil
}

func (s *Server) bind(ctx context.Context) (net.Listener, error) {
	var tlsCfg *tls.Config
	if s.Secure() {
		cfg, err := tlsConfig(s.ssl)
		if err != nil {
			return nil, err
		}
		tlsCfg = cfg
	}

	ln, err := listen(ctx, net.JoinHostPort(s.address, strconv.Itoa(s.port)))
	if err != nil {
		return nil, fmt.Errorf("listen %s:%d: %w", s.address, s.port, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	return ln, nil
}

// Close 优雅关闭服务器：等待进行中的请求完成，ctx 到期后强制关闭连接。
// 未在监听时立即返回且不发出信号；close 信号在每次关闭完成时只发出一次。
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return nil
	case StateClosing:
		done := s.closed
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.state = StateClosing
	done := make(chan struct{})
	s.closed = done
	srv := s.httpServer
	forwarder := s.forwarder
	s.mu.Unlock()

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	forwarder.Close()

	s.mu.Lock()
	s.state = StateIdle
	s.listener = nil
	s.httpServer = nil
	s.forwarder = nil
	close(done)
	s.mu.Unlock()

	s.obs.emitClose()
	if err != nil {
		return fmt.Errorf("forced close after shutdown timeout: %w", err)
	}
	return nil
}
