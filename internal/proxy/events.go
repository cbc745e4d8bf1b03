package proxy

import (
	"net/http"
	"sync"
)

// Event 是 Server 对外发出的信号名称。
type Event string

const (
	EventClose     Event = "close"
	EventError     Event = "error"
	EventListening Event = "listening"
	EventRequest   Event = "request"
)

// observers 保存各信号的订阅者，按注册顺序同步调用。
type observers struct {
	mu        sync.RWMutex
	close     []func()
	errors    []func(error)
	listening []func()
	request   []func(*http.Request, *Response)
}

// OnClose 注册 close 信号，服务器完全停止后触发一次。
func (s *Server) OnClose(fn func()) {
	s.obs.mu.Lock()
	s.obs.close = append(s.obs.close, fn)
	s.obs.mu.Unlock()
}

// OnError 注册 error 信号：绑定失败、后台 Serve 失败或转发失败时触发。
func (s *Server) OnError(fn func(error)) {
	s.obs.mu.Lock()
	s.obs.errors = append(s.obs.errors, fn)
	s.obs.mu.Unlock()
}

// OnListening 注册 listening 信号，绑定成功后触发。
func (s *Server) OnListening(fn func()) {
	s.obs.mu.Lock()
	s.obs.listening = append(s.obs.listening, fn)
	s.obs.mu.Unlock()
}

// OnRequest 注册 request 信号，每个普通 HTTP 请求在路由前触发一次。
func (s *Server) OnRequest(fn func(*http.Request, *Response)) {
	s.obs.mu.Lock()
	s.obs.request = append(s.obs.request, fn)
	s.obs.mu.Unlock()
}

func (o *observers) emitClose() {
	o.mu.RLock()
	handlers := append([]func(){}, o.close...)
	o.mu.RUnlock()
	for _, fn := range handlers {
		fn()
	}
}

func (o *observers) emitError(err error) {
	o.mu.RLock()
	handlers := append([]func(error){}, o.errors...)
	o.mu.RUnlock()
	for _, fn := range handlers {
		fn(err)
	}
}

func (o *observers) emitListening() {
	o.mu.RLock()
	handlers := append([]func(){}, o.listening...)
	o.mu.RUnlock()
	for _, fn := range handlers {
		fn()
	}
}

func (o *observers) emitRequest(r *http.Request, w *Response) {
	o.mu.RLock()
	handlers := append([]func(*http.Request, *Response){}, o.request...)
	o.mu.RUnlock()
	for _, fn := range handlers {
		fn(r, w)
	}
}
