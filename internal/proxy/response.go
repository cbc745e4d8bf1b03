package proxy

import (
	"net/http"
	"sync"
)

// Response 包装 http.ResponseWriter，记录状态码与写出的字节数，
// 并在处理结束后回调 OnFinish 注册的函数（用于访问日志）。
type Response struct {
	http.ResponseWriter

	mu       sync.Mutex
	status   int
	written  int64
	finished bool
	onFinish []func()
}

func newResponse(w http.ResponseWriter) *Response {
	return &Response{ResponseWriter: w}
}

// WriteHeader 记录第一次写出的状态码。
func (w *Response) WriteHeader(status int) {
	w.mu.Lock()
	if w.status == 0 {
		w.status = status
	}
	w.mu.Unlock()
	w.ResponseWriter.WriteHeader(status)
}

func (w *Response) Write(p []byte) (int, error) {
	w.mu.Lock()
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.mu.Unlock()
	n, err := w.ResponseWriter.Write(p)
	w.mu.Lock()
	w.written += int64(n)
	w.mu.Unlock()
	return n, err
}

// Flush 透传给底层 writer，保证流式响应及时下发。
func (w *Response) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap 供 http.ResponseController 访问底层 writer（Hijack 等）。
func (w *Response) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Status 返回已写出的状态码，尚未写出时为 0。
func (w *Response) Status() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// BytesWritten 返回响应体已写出的字节数。
func (w *Response) BytesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// OnFinish 注册响应结束回调，按注册顺序执行且只执行一次。
func (w *Response) OnFinish(fn func()) {
	w.mu.Lock()
	w.onFinish = append(w.onFinish, fn)
	w.mu.Unlock()
}

func (w *Response) finish() {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return
	}
	w.finished = true
	handlers := w.onFinish
	w.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}
