package proxy

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/any-hub/reverse-proxy/internal/route"
)

// handler 返回绑定到当前转发引擎的请求入口。
func (s *Server) handler(forwarder *Forwarder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.dispatchUpgrade(w, r, forwarder)
			return
		}
		s.dispatchRequest(w, r, forwarder)
	})
}

// dispatchRequest 处理普通 HTTP 请求：发出 request 信号后按 Host 查找路由，
// 未命中返回 404，命中则覆盖 header 并交给转发引擎。
func (s *Server) dispatchRequest(w http.ResponseWriter, r *http.Request, forwarder *Forwarder) {
	resp := newResponse(w)
	defer resp.finish()

	s.obs.emitRequest(r, resp)

	target, _, ok := s.table.Lookup(route.Hostname(r.Host))
	if !ok {
		sendStatus(resp, http.StatusNotFound)
		return
	}
	applyHeaders(r, target)
	forwarder.Forward(resp, r, target.URI())
}

// dispatchUpgrade 处理 WebSocket 升级请求，不发出 request 信号；
// 未命中路由时直接断开底层连接，不写出任何字节。
func (s *Server) dispatchUpgrade(w http.ResponseWriter, r *http.Request, forwarder *Forwarder) {
	target, _, ok := s.table.Lookup(route.Hostname(r.Host))
	if !ok {
		dropConnection(w)
		return
	}
	applyHeaders(r, target)
	forwarder.Forward(w, r, target.URI())
}

// applyHeaders 把路由 header 覆盖到入站请求上，同名时路由值优先。
func applyHeaders(r *http.Request, target route.Route) {
	for key, value := range target.Headers() {
		r.Header.Set(key, value)
	}
}

// sendStatus 以纯文本形式返回状态码对应的标准描述。
func sendStatus(w http.ResponseWriter, status int) {
	body := http.StatusText(status)
	header := w.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func dropConnection(w http.ResponseWriter) {
	conn, _, err := http.NewResponseController(w).Hijack()
	if err != nil {
		// 无法接管连接（例如 HTTP/2）时让服务器中止该请求。
		panic(http.ErrAbortHandler)
	}
	_ = conn.Close()
}
