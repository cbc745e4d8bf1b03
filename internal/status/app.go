// Package status 提供 supervisor 进程的诊断接口：worker 列表与 Prometheus 指标。
package status

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/reverse-proxy/internal/cluster"
	"github.com/any-hub/reverse-proxy/internal/version"
)

// WorkerSource 提供 worker 状态快照，通常由 cluster.Supervisor 实现。
type WorkerSource interface {
	Workers() []cluster.WorkerInfo
}

// Options 控制诊断应用的依赖。
type Options struct {
	Logger   *logrus.Logger
	Workers  WorkerSource
	Registry *prometheus.Registry
}

const contextKeyRequestID = "_reverse_proxy_request_id"

// NewApp 构建诊断用的 Fiber 应用，所有路径位于 /-/ 前缀下。
func NewApp(opts Options) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Workers == nil {
		return nil, errors.New("worker source is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("metrics registry is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Get("/-/workers", func(c fiber.Ctx) error {
		workers := opts.Workers.Workers()
		return c.JSON(fiber.Map{
			"version": version.Full(),
			"count":   len(workers),
			"workers": workers,
		})
	})
	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))

	app.Use(func(c fiber.Ctx) error {
		opts.Logger.WithFields(logrus.Fields{
			"action":     "status_lookup",
			"path":       c.Path(),
			"request_id": RequestID(c),
		}).Debug("unknown status path")
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID 并写入 X-Request-ID。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID 返回中间件写入的请求 ID。
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// Listen 同步绑定诊断接口地址，使端口占用等错误在启动阶段即可返回。
func Listen(address string) (net.Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("status endpoint listen %s: %w", address, err)
	}
	return ln, nil
}

// Serve 在已绑定的 ln 上运行诊断应用，ctx 结束时关闭。
func Serve(ctx context.Context, app *fiber.App, ln net.Listener, logger *logrus.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	logger.WithFields(logrus.Fields{
		"action":  "status_listen",
		"address": ln.Addr().String(),
	}).Info("status endpoint started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return app.ShutdownWithContext(context.Background())
	}
}
