package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/reverse-proxy/internal/cluster"
	"github.com/any-hub/reverse-proxy/internal/config"
	"github.com/any-hub/reverse-proxy/internal/logging"
	"github.com/any-hub/reverse-proxy/internal/status"
	"github.com/any-hub/reverse-proxy/internal/version"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	if id, ok := workerID(); ok {
		os.Exit(runWorkerProcess(id))
	}
	os.Exit(execute(os.Args[1:]))
}

// execute 解析命令行并执行，返回退出码；参数错误返回 2。
func execute(args []string) int {
	code := exitOK
	cmd := newRootCommand(&code)
	cmd.SetArgs(args)
	cmd.SetOut(stdOut)
	cmd.SetErr(stdErr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stdErr, err.Error())
		return exitUsage
	}
	return code
}

func newRootCommand(code *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reverse-proxy",
		Short: "Simple reverse proxy server supporting WebSockets",
		Long: `Reverse proxy that routes HTTP and WebSocket traffic to backend targets
selected by the requested hostname.

Examples:
  # Forward everything received on port 80 to a local service on port 3000
  reverse-proxy --port 80 --target 3000

  # Run the servers described by a configuration file with 4 worker processes
  reverse-proxy --config /etc/reverse-proxy.yaml --workers 4`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := config.LoadOptions(cmd.Flags())
			if err != nil {
				return err
			}
			*code = run(opts)
			return nil
		},
	}
	config.BindFlags(cmd.Flags())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// run 根据运行参数执行 supervisor 流程，并返回退出码，方便测试。
func run(opts config.RuntimeOptions) int {
	if err := opts.Validate(); err != nil {
		fmt.Fprintf(stdErr, "参数错误: %v\n", err)
		return exitFailure
	}

	logger, err := logging.InitLogger(opts.Log)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return exitFailure
	}

	defs, err := config.Definitions(nil, opts)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return exitFailure
	}

	if opts.CheckOnly {
		fields := logging.BaseFields("check_config", opts.ConfigPath)
		fields["servers"] = len(defs)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return exitOK
	}

	spawner, err := cluster.NewExecSpawner(logger.Out)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 worker 失败: %v\n", err)
		return exitFailure
	}
	workers := cluster.WorkerCount(opts.Workers, runtime.NumCPU())
	sup := cluster.New(cluster.Options{
		Spawner:     spawner,
		Workers:     workers,
		KillTimeout: opts.KillTimeout.DurationValue(),
		Logger:      logger,
	})

	fields := logging.BaseFields("startup", opts.ConfigPath)
	fields["servers"] = len(defs)
	fields["workers"] = workers
	fields["environment"] = opts.Environment
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := cluster.StartParams{
		Servers: defs,
		Log:     opts.Log,
		Debug:   opts.Debug(),
		User:    opts.User,
	}
	if err := sup.Start(ctx, params); err != nil {
		fmt.Fprintf(stdErr, "启动 worker 失败: %v\n", err)
		return exitFailure
	}

	statusCtx, cancelStatus := context.WithCancel(ctx)
	defer cancelStatus()
	if opts.StatusAddress != "" {
		if err := startStatus(statusCtx, opts.StatusAddress, sup, logger); err != nil {
			fmt.Fprintf(stdErr, "启动状态接口失败: %v\n", err)
			_ = sup.Stop(context.Background())
			return exitFailure
		}
	}

	code := exitOK
	select {
	case <-ctx.Done():
		logger.WithField("action", "shutdown").Info("收到退出信号，正在停止 worker")
	case <-sup.Done():
		logger.WithField("action", "shutdown").Error("全部 worker 已退出")
		code = exitFailure
	}
	if err := sup.Stop(context.Background()); err != nil {
		logger.WithError(err).WithField("action", "shutdown").Warn("停止 worker 时出现错误")
	}
	return code
}

func startStatus(ctx context.Context, address string, sup *cluster.Supervisor, logger *logrus.Logger) error {
	app, err := status.NewApp(status.Options{
		Logger:   logger,
		Workers:  sup,
		Registry: sup.Metrics().Registry(),
	})
	if err != nil {
		return err
	}
	ln, err := status.Listen(address)
	if err != nil {
		return err
	}
	go func() {
		if err := status.Serve(ctx, app, ln, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).WithField("action", "status_listen").Error("状态接口异常退出")
		}
	}()
	return nil
}
