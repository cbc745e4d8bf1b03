package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/any-hub/reverse-proxy/internal/config"
)

func TestLoggingFallbackToStdout(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	useBufferWriters(t)
	code := run(config.RuntimeOptions{
		Address:   config.DefaultAddress,
		Port:      8080,
		Target:    "3000",
		CheckOnly: true,
		Log:       config.LogConfig{Level: "info", FilePath: filepath.Join(blocked, "sub", "proxy.log")},
	})
	if code != exitOK {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d: %s", code, stdErrBuffer().String())
	}
}

func TestLoggingWritesToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "proxy.log")

	useBufferWriters(t)
	code := run(config.RuntimeOptions{
		Address:   config.DefaultAddress,
		Port:      8080,
		Target:    "http://127.0.0.1:3000",
		CheckOnly: true,
		Log:       config.LogConfig{Level: "info", FilePath: logPath, MaxSize: 1},
	})
	if code != exitOK {
		t.Fatalf("配置校验应成功，得到 %d: %s", code, stdErrBuffer().String())
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if !strings.Contains(string(data), `"action":"check_config"`) {
		t.Fatalf("日志文件缺少 check_config 记录: %s", data)
	}
}
