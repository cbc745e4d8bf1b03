package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/any-hub/reverse-proxy/internal/config"
	"github.com/any-hub/reverse-proxy/internal/route"
)

// syncBuffer 是并发安全的日志缓冲区。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type childHarness struct {
	commands *json.Encoder
	stdin    *io.PipeWriter
	statuses *json.Decoder
	logs     *syncBuffer
	result   chan error
}

func startChild(t *testing.T, id int) *childHarness {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	h := &childHarness{
		commands: json.NewEncoder(inW),
		stdin:    inW,
		statuses: json.NewDecoder(outR),
		logs:     &syncBuffer{},
		result:   make(chan error, 1),
	}
	go func() {
		h.result <- RunWorker(context.Background(), id, inR, outW, h.logs)
		outW.Close()
	}()
	t.Cleanup(func() { inW.Close() })
	return h
}

func (h *childHarness) send(t *testing.T, cmd Command) {
	t.Helper()
	if err := h.commands.Encode(cmd); err != nil {
		t.Fatalf("发送指令失败: %v", err)
	}
}

func (h *childHarness) next(t *testing.T) Status {
	t.Helper()
	ch := make(chan Status, 1)
	errCh := make(chan error, 1)
	go func() {
		var st Status
		if err := h.statuses.Decode(&st); err != nil {
			errCh <- err
			return
		}
		ch <- st
	}()
	select {
	case st := <-ch:
		return st
	case err := <-errCh:
		t.Fatalf("读取状态失败: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatalf("等待 worker 状态超时")
	}
	return Status{}
}

func (h *childHarness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(3 * time.Second):
		t.Fatalf("RunWorker 未退出")
	}
	return nil
}

func TestRunWorkerStartServeStop(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "backend:"+r.Host)
	}))
	defer backend.Close()

	target := route.AddressDefinition(backend.URL)
	h := startChild(t, 7)
	h.send(t, Command{Action: ActionStart, Params: &StartParams{
		Servers: []config.ServerDefinition{{
			Address: "127.0.0.1",
			Port:    0,
			Target:  &target,
			Proxy:   config.ForwardOptions{ProxyTimeout: config.Duration(5 * time.Second)},
		}},
		Log: config.LogConfig{Level: "info"},
	}})

	ready := h.next(t)
	if ready.Event != EventReady || ready.Worker != 7 || len(ready.Ports) != 1 || ready.Ports[0] == 0 {
		t.Fatalf("unexpected ready status: %+v", ready)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:"+strconv.Itoa(ready.Ports[0])+"/", nil)
	req.Host = "proxied.test"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "backend:proxied.test" {
		t.Fatalf("unexpected body: %q", body)
	}

	h.send(t, Command{Action: ActionStop})
	if st := h.next(t); st.Event != EventStopped {
		t.Fatalf("expected stopped, got %+v", st)
	}
	if err := h.wait(t); err != nil {
		t.Fatalf("RunWorker 返回错误: %v", err)
	}

	logs := h.logs.String()
	if !strings.Contains(logs, `"action":"listening"`) || !strings.Contains(logs, `"action":"request"`) {
		t.Fatalf("worker 日志应为 JSON 行并包含生命周期与访问日志: %s", logs)
	}
}

func TestRunWorkerReportsBindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer occupied.Close()

	target := route.PortDefinition(1)
	h := startChild(t, 1)
	h.send(t, Command{Action: ActionStart, Params: &StartParams{
		Servers: []config.ServerDefinition{{
			Address: "127.0.0.1",
			Port:    occupied.Addr().(*net.TCPAddr).Port,
			Target:  &target,
		}},
		Log: config.LogConfig{Level: "info", Silent: true},
	}})

	st := h.next(t)
	if st.Event != EventFailed || st.Error == "" {
		t.Fatalf("expected failed status, got %+v", st)
	}
	if err := h.wait(t); err == nil {
		t.Fatalf("绑定失败时 RunWorker 应返回错误")
	}
}

func TestRunWorkerStopsOnInputEOF(t *testing.T) {
	h := startChild(t, 2)
	h.stdin.Close()
	if st := h.next(t); st.Event != EventStopped {
		t.Fatalf("expected stopped, got %+v", st)
	}
	if err := h.wait(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunWorkerRejectsStartWithoutParams(t *testing.T) {
	h := startChild(t, 3)
	h.send(t, Command{Action: ActionStart})
	if st := h.next(t); st.Event != EventFailed {
		t.Fatalf("expected failed, got %+v", st)
	}
	if err := h.wait(t); err == nil {
		t.Fatalf("expected error")
	}
}
