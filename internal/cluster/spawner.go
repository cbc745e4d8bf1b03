package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/any-hub/reverse-proxy/internal/config"
)

// StatusFD 是 worker 进程中用于回报状态的文件描述符（ExtraFiles[0]）。
const StatusFD = 3

// Handle 是一个已启动 worker 进程的控制句柄。
type Handle interface {
	// PID 返回进程号。
	PID() int
	// Send 向 worker 发送一条指令。
	Send(Command) error
	// Statuses 返回 worker 上报的状态流，worker 退出后关闭。
	Statuses() <-chan Status
	// Kill 立即结束进程。
	Kill() error
	// Done 在进程退出后关闭。
	Done() <-chan struct{}
	// Err 返回进程的退出错误，仅在 Done 关闭后有效。
	Err() error
}

// Spawner 负责创建 worker 进程，测试中可以替换为内存实现。
type Spawner interface {
	Spawn(ctx context.Context, id int) (Handle, error)
}

// ExecSpawner 通过重新执行当前二进制来创建 worker：
// 指令写入 stdin，状态从 fd 3 读取，stdout/stderr 按行转发到 Output。
type ExecSpawner struct {
	Path   string
	Args   []string
	Env    []string
	Output io.Writer
}

// NewExecSpawner 返回重新执行当前可执行文件的 Spawner。
func NewExecSpawner(output io.Writer) (*ExecSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("无法定位当前可执行文件: %w", err)
	}
	return &ExecSpawner{Path: path, Output: output}, nil
}

// Spawn 启动编号为 id 的 worker 进程。
func (s *ExecSpawner) Spawn(ctx context.Context, id int) (Handle, error) {
	cmd := exec.Command(s.Path, s.Args...)
	env := append(os.Environ(), s.Env...)
	cmd.Env = append(env, config.EnvWorkerID+"="+strconv.Itoa(id))

	output := s.Output
	if output == nil {
		output = os.Stdout
	}
	stdout := &lineWriter{out: output}
	stderr := &lineWriter{out: output}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	statusR, statusW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.ExtraFiles = []*os.File{statusW}

	if err := cmd.Start(); err != nil {
		statusR.Close()
		statusW.Close()
		return nil, fmt.Errorf("启动 worker #%d 失败: %w", id, err)
	}
	statusW.Close()

	h := &execHandle{
		cmd:      cmd,
		writer:   newMessageWriter(stdin),
		stdin:    stdin,
		statuses: make(chan Status, 4),
		done:     make(chan struct{}),
	}
	go h.readStatuses(statusR)
	go func() {
		err := cmd.Wait()
		stdout.flush()
		stderr.flush()
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	}()
	return h, nil
}

type execHandle struct {
	cmd      *exec.Cmd
	writer   *messageWriter
	stdin    io.WriteCloser
	statuses chan Status
	done     chan struct{}

	mu  sync.Mutex
	err error
}

func (h *execHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Send(cmd Command) error {
	return h.writer.write(cmd)
}

func (h *execHandle) Statuses() <-chan Status {
	return h.statuses
}

func (h *execHandle) Kill() error {
	err := h.cmd.Process.Kill()
	_ = h.stdin.Close()
	return err
}

func (h *execHandle) Done() <-chan struct{} {
	return h.done
}

func (h *execHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *execHandle) readStatuses(r io.ReadCloser) {
	defer close(h.statuses)
	defer r.Close()
	dec := json.NewDecoder(r)
	for {
		var st Status
		if err := dec.Decode(&st); err != nil {
			return
		}
		h.statuses <- st
	}
}

// lineWriter 把子进程输出按完整行转发，避免多个 worker 的日志在同一行内交错。
type lineWriter struct {
	mu  sync.Mutex
	out io.Writer
	buf bytes.Buffer
}

// outputMu 在所有 lineWriter 之间串行化对共享输出的写入。
var outputMu sync.Mutex

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := w.buf.Next(idx + 1)
		outputMu.Lock()
		_, _ = w.out.Write(line)
		outputMu.Unlock()
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	outputMu.Lock()
	_, _ = w.out.Write(append(w.buf.Bytes(), '\n'))
	outputMu.Unlock()
	w.buf.Reset()
}
