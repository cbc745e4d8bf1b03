package main

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/reverse-proxy/internal/cluster"
	"github.com/any-hub/reverse-proxy/internal/config"
)

func parseArgs(t *testing.T, args ...string) config.RuntimeOptions {
	t.Helper()
	code := 0
	cmd := newRootCommand(&code)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("解析参数失败: %v", err)
	}
	opts, err := config.LoadOptions(cmd.Flags())
	if err != nil {
		t.Fatalf("加载运行参数失败: %v", err)
	}
	return opts
}

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("REVERSE_PROXY_PORT", "7000")
	t.Setenv("REVERSE_PROXY_TARGET", "3000")
	t.Setenv("REVERSE_PROXY_ENV", "production")

	opts := parseArgs(t, "--port", "9000", "-w", "3")
	if opts.Port != 9000 {
		t.Fatalf("flag 应覆盖环境变量，得到 %d", opts.Port)
	}
	if opts.Target != "3000" {
		t.Fatalf("target 应来自环境变量，得到 %q", opts.Target)
	}
	if opts.Workers != 3 {
		t.Fatalf("workers 解析错误: %d", opts.Workers)
	}
	if opts.Debug() {
		t.Fatalf("production 环境不应开启 debug")
	}
	if opts.Address != config.DefaultAddress {
		t.Fatalf("address 默认值错误: %q", opts.Address)
	}
}

func TestExecuteRejectsUnknownFlag(t *testing.T) {
	useBufferWriters(t)
	if code := execute([]string{"--nope"}); code != exitUsage {
		t.Fatalf("未知参数应返回 2，得到 %d", code)
	}
	if !strings.Contains(stdErrBuffer().String(), "unknown flag") {
		t.Fatalf("stderr 应包含错误信息: %s", stdErrBuffer().String())
	}
}

func TestExecuteRejectsPositionalArgs(t *testing.T) {
	useBufferWriters(t)
	if code := execute([]string{"extra"}); code != exitUsage {
		t.Fatalf("多余的位置参数应返回 2，得到 %d", code)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	path := writeConfigFile(t, "proxy.yaml", `
address: 127.0.0.1
port: 9000
routes:
  a.test: 3000
  "*.b.test": http://127.0.0.1:4000
---
port: 9443
target: 5000
`)
	useBufferWriters(t)
	if code := execute([]string{"--check-config", "--silent", "--config", path}); code != exitOK {
		t.Fatalf("配置校验应成功，得到 %d: %s", code, stdErrBuffer().String())
	}
}

func TestRunCheckConfigInlineTarget(t *testing.T) {
	useBufferWriters(t)
	code := run(config.RuntimeOptions{
		Address:   config.DefaultAddress,
		Port:      8080,
		Target:    "3000",
		CheckOnly: true,
		Log:       config.LogConfig{Silent: true},
	})
	if code != exitOK {
		t.Fatalf("内联 target 校验应成功，得到 %d: %s", code, stdErrBuffer().String())
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	path := writeConfigFile(t, "proxy.json", `{"port": 9000}`)
	useBufferWriters(t)
	code := run(config.RuntimeOptions{ConfigPath: path, CheckOnly: true, Log: config.LogConfig{Silent: true}})
	if code != exitFailure {
		t.Fatalf("缺少 routes/target 应失败，得到 %d", code)
	}
	if !strings.Contains(stdErrBuffer().String(), "加载配置失败") {
		t.Fatalf("stderr 应提示配置错误: %s", stdErrBuffer().String())
	}
}

func TestRunRequiresTarget(t *testing.T) {
	useBufferWriters(t)
	code := run(config.RuntimeOptions{Address: config.DefaultAddress, Port: 8080, Log: config.LogConfig{Silent: true}})
	if code != exitFailure {
		t.Fatalf("缺少 target 应失败，得到 %d", code)
	}
	if !strings.Contains(stdErrBuffer().String(), "参数错误") {
		t.Fatalf("stderr 应提示参数错误: %s", stdErrBuffer().String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	if code := execute([]string{"version"}); code != exitOK {
		t.Fatalf("version 子命令应返回 0，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "reverse-proxy") {
		t.Fatalf("版本输出缺少程序名: %s", stdOutBuffer().String())
	}
}

func TestStartStatusReportsBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	sup := cluster.New(cluster.Options{Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := startStatus(ctx, busy.Addr().String(), sup, logger); err == nil {
		t.Fatalf("状态接口地址被占用时应返回错误")
	}
}
