package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/reverse-proxy/internal/config"
	"github.com/any-hub/reverse-proxy/internal/logging"
	"github.com/any-hub/reverse-proxy/internal/proxy"
)

// Worker 在单个进程内持有全部 ProxyServer，并把它们的信号转换为结构化日志。
type Worker struct {
	id     int
	logger *logrus.Logger
	debug  bool

	mu      sync.Mutex
	servers []*proxy.Server
}

// ServerInfo 是某个 ProxyServer 的状态快照。
type ServerInfo struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Secure  bool   `json:"secure"`
	State   string `json:"state"`
}

// New 创建 Worker；debug 为 true 时错误日志附带类型与详细信息。
func New(id int, logger *logrus.Logger, debug bool) *Worker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{id: id, logger: logger, debug: debug}
}

// ID 返回 worker 编号。
func (w *Worker) ID() int {
	return w.id
}

// Start 为每个定义创建一个 ProxyServer 并同时启动。
// 任意一个绑定失败即返回该错误；全部成功时按定义顺序返回实际端口。
func (w *Worker) Start(ctx context.Context, defs []config.ServerDefinition) ([]int, error) {
	servers := make([]*proxy.Server, 0, len(defs))
	for idx, def := range defs {
		srv, err := proxy.NewServer(def)
		if err != nil {
			return nil, fmt.Errorf("server #%d: %w", idx, err)
		}
		w.observe(srv)
		servers = append(servers, srv)
	}

	w.mu.Lock()
	w.servers = servers
	w.mu.Unlock()

	ports := make([]int, len(servers))
	group, groupCtx := errgroup.WithContext(ctx)
	for idx, srv := range servers {
		idx, srv := idx, srv
		group.Go(func() error {
			port, err := srv.Listen(groupCtx)
			if err != nil {
				return err
			}
			ports[idx] = port
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return ports, nil
}

// Stop 并发关闭全部服务器，等待全部完成；关闭错误只记录日志，不会返回。
func (w *Worker) Stop(ctx context.Context) {
	w.mu.Lock()
	servers := append([]*proxy.Server(nil), w.servers...)
	w.mu.Unlock()

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(srv *proxy.Server) {
			defer wg.Done()
			if err := srv.Close(ctx); err != nil {
				w.logError(srv, err)
			}
		}(srv)
	}
	wg.Wait()
}

// Servers 返回当前服务器的状态快照。
func (w *Worker) Servers() []ServerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	infos := make([]ServerInfo, 0, len(w.servers))
	for _, srv := range w.servers {
		infos = append(infos, ServerInfo{
			Address: srv.Address(),
			Port:    srv.Port(),
			Secure:  srv.Secure(),
			State:   srv.State().String(),
		})
	}
	return infos
}

func (w *Worker) observe(srv *proxy.Server) {
	srv.OnListening(func() {
		w.logger.WithFields(w.serverFields(srv, "listening")).
			Infof("Reverse proxy #%d is listening on %s", w.id, w.endpoint(srv))
	})
	srv.OnClose(func() {
		w.logger.WithFields(w.serverFields(srv, "close")).
			Infof("Reverse proxy #%d on %s has been shut down", w.id, w.endpoint(srv))
	})
	srv.OnError(func(err error) {
		w.logError(srv, err)
	})
	srv.OnRequest(func(r *http.Request, resp *proxy.Response) {
		requestID := uuid.NewString()
		resp.OnFinish(func() {
			entry := logging.NewAccessEntry(r, resp.Status(), resp.Header(), time.Now())
			fields := logging.RequestFields(entry, requestID)
			fields["action"] = "request"
			fields["worker"] = w.id
			w.logger.WithFields(fields).Info(logging.FormatAccessLine(entry))
		})
	})
}

func (w *Worker) logError(srv *proxy.Server, err error) {
	entry := w.logger.WithFields(w.serverFields(srv, "error"))
	if w.debug {
		entry = entry.WithFields(logrus.Fields{
			"error_type": fmt.Sprintf("%T", err),
			"detail":     fmt.Sprintf("%+v", err),
		})
	}
	entry.Error(err.Error())
}

func (w *Worker) serverFields(srv *proxy.Server, action string) logrus.Fields {
	scheme := "http"
	if srv.Secure() {
		scheme = "https"
	}
	fields := logging.ServerFields(w.id, scheme, srv.Address(), srv.Port())
	fields["action"] = action
	return fields
}

func (w *Worker) endpoint(srv *proxy.Server) string {
	scheme := "http"
	if srv.Secure() {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, srv.Address(), srv.Port())
}
