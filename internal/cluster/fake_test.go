package cluster

import (
	"context"
	"errors"
	"io"
	"sync"
)

// fakeHandle 模拟 worker 进程：收到 start 回报 ready，收到 stop 回报 stopped 并退出。
type fakeHandle struct {
	pid        int
	ignoreStop bool
	failStart  string

	statuses chan Status
	done     chan struct{}

	mu     sync.Mutex
	sent   []Command
	exited bool
	killed bool
	err    error
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{
		pid:      pid,
		statuses: make(chan Status, 8),
		done:     make(chan struct{}),
	}
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Send(cmd Command) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return io.ErrClosedPipe
	}
	h.sent = append(h.sent, cmd)
	switch cmd.Action {
	case ActionStart:
		if h.failStart != "" {
			h.statuses <- Status{Event: EventFailed, PID: h.pid, Error: h.failStart}
			return nil
		}
		h.statuses <- Status{Event: EventReady, PID: h.pid, Ports: []int{8080}}
	case ActionStop:
		if !h.ignoreStop {
			h.statuses <- Status{Event: EventStopped, PID: h.pid}
			h.exitLocked(nil)
		}
	}
	return nil
}

func (h *fakeHandle) Statuses() <-chan Status { return h.statuses }

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	h.exitLocked(errors.New("signal: killed"))
	return nil
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// crash 模拟进程意外退出。
func (h *fakeHandle) crash() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exitLocked(errors.New("exit status 1"))
}

func (h *fakeHandle) wasKilled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

func (h *fakeHandle) exitLocked(err error) {
	if h.exited {
		return
	}
	h.exited = true
	h.err = err
	close(h.statuses)
	close(h.done)
}

type fakeSpawner struct {
	mu      sync.Mutex
	build   func(id int) *fakeHandle
	handles []*fakeHandle
}

func (s *fakeSpawner) Spawn(_ context.Context, id int) (Handle, error) {
	h := s.build(id)
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h, nil
}

func (s *fakeSpawner) all() []*fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeHandle(nil), s.handles...)
}
