package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/any-hub/reverse-proxy/internal/config"
)

// 转发引擎共享的 transport 参数，复用长连接并集中配置超时。
const (
	defaultDialTimeout     = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
	defaultMaxIdleConns    = 100
)

type targetKey struct{}

// Forwarder 包装 httputil.ReverseProxy：目标地址随请求 context 传入，
// 因此同一个实例可以服务路由表中的所有目标。
type Forwarder struct {
	options   config.ForwardOptions
	transport *http.Transport
	proxy     *httputil.ReverseProxy
	onError   func(error)
}

// NewForwarder 根据 proxy 选项创建转发引擎；onError 在上游失败时被调用。
func NewForwarder(options config.ForwardOptions, onError func(error)) *Forwarder {
	f := &Forwarder{
		options:   options,
		transport: newTransport(options),
		onError:   onError,
	}
	f.proxy = &httputil.ReverseProxy{
		Rewrite:      f.rewrite,
		Transport:    f.transport,
		ErrorHandler: f.handleError,
		ErrorLog:     log.New(errorLogWriter{f}, "", 0),
	}
	return f
}

func newTransport(options config.ForwardOptions) *http.Transport {
	dialTimeout := defaultDialTimeout
	if timeout := options.Timeout.DurationValue(); timeout > 0 {
		dialTimeout = timeout
	}
	transport := &http.Transport{
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConns,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: options.ProxyTimeout.DurationValue(),
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	if !options.VerifyTLS() {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // secure: false
	}
	return transport
}

// Forward 将请求转发到 target，响应（包括 101 协议切换后的双向转发）直接写回 w。
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, target *url.URL) {
	ctx := context.WithValue(r.Context(), targetKey{}, target)
	f.proxy.ServeHTTP(w, r.WithContext(ctx))
}

// Close 释放空闲的上游连接。
func (f *Forwarder) Close() {
	f.transport.CloseIdleConnections()
}

var forwardedHeaders = []string{"Forwarded", "X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto"}

func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	target, _ := pr.In.Context().Value(targetKey{}).(*url.URL)
	if target == nil {
		return
	}
	pr.SetURL(target)
	if !f.options.ChangeOrigin {
		pr.Out.Host = pr.In.Host
	}
	if f.options.XForward {
		pr.SetXForwarded()
	} else {
		// Rewrite 模式会先清除这些头；未开启 xfwd 时原样透传给上游。
		for _, key := range forwardedHeaders {
			if values, ok := pr.In.Header[key]; ok {
				pr.Out.Header[key] = append([]string(nil), values...)
			}
		}
	}
	for key, value := range f.options.Headers {
		pr.Out.Header.Set(key, value)
	}
}

// handleError 不做重试，直接返回 502 并发出 error 信号。
func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if f.onError != nil {
		f.onError(err)
	}
	sendStatus(w, http.StatusBadGateway)
}

// errorLogWriter 把 ReverseProxy 内部日志（如响应体拷贝中断）转换为 error 信号。
type errorLogWriter struct {
	f *Forwarder
}

func (w errorLogWriter) Write(p []byte) (int, error) {
	if w.f.onError != nil {
		if msg := strings.TrimSpace(string(p)); msg != "" {
			w.f.onError(errors.New(msg))
		}
	}
	return len(p), nil
}
