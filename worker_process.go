package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/any-hub/reverse-proxy/internal/cluster"
	"github.com/any-hub/reverse-proxy/internal/config"
)

// workerID 判断当前进程是否由 supervisor 派生。
func workerID() (int, bool) {
	raw := os.Getenv(config.EnvWorkerID)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

// runWorkerProcess 运行 worker 进程：忽略 SIGINT（由 supervisor 统一协调），SIGTERM 触发优雅停止。
func runWorkerProcess(id int) int {
	signal.Ignore(os.Interrupt)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	statusOut := os.NewFile(uintptr(cluster.StatusFD), "status")
	if statusOut == nil {
		fmt.Fprintf(stdErr, "worker #%d: status pipe unavailable\n", id)
		return exitFailure
	}
	defer statusOut.Close()

	if err := cluster.RunWorker(ctx, id, os.Stdin, statusOut, stdOut); err != nil {
		fmt.Fprintf(stdErr, "worker #%d: %v\n", id, err)
		return exitFailure
	}
	return exitOK
}
