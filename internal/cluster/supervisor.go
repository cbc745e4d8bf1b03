package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/reverse-proxy/internal/config"
)

// ErrWorkerExited 表示 worker 在回报 ready 之前退出。
var ErrWorkerExited = errors.New("worker exited before it was ready")

// Options 配置 Supervisor。
type Options struct {
	Spawner     Spawner
	Workers     int
	KillTimeout time.Duration
	Logger      *logrus.Logger
	Metrics     *Metrics
}

// WorkerInfo 是单个 worker 进程的状态快照。
type WorkerInfo struct {
	ID    int    `json:"id"`
	PID   int    `json:"pid"`
	State string `json:"state"`
	Ports []int  `json:"ports,omitempty"`
}

// Supervisor 管理 worker 进程池：启动、等待就绪、带超时的停止，以及意外退出的记录。
type Supervisor struct {
	opts    Options
	logger  *logrus.Logger
	metrics *Metrics

	mu       sync.Mutex
	workers  []*workerProc
	started  bool
	stopping bool
	alive    sync.WaitGroup
	done     chan struct{}
}

type workerProc struct {
	id     int
	handle Handle
	ready  chan error
	once   sync.Once

	mu    sync.Mutex
	state string
	ports []int
}

func (w *workerProc) report(err error) {
	w.once.Do(func() {
		w.ready <- err
	})
}

func (w *workerProc) setState(state string, ports []int) {
	w.mu.Lock()
	w.state = state
	if ports != nil {
		w.ports = ports
	}
	w.mu.Unlock()
}

// New 创建 Supervisor，未设置的选项使用默认值。
func New(opts Options) *Supervisor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = config.DefaultKillTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Supervisor{
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Metrics 返回进程池指标。
func (s *Supervisor) Metrics() *Metrics {
	return s.metrics
}

// Start 启动全部 worker 并等待它们回报 ready。
// 任一 worker 失败或提前退出时停止整个进程池并返回该错误。
func (s *Supervisor) Start(ctx context.Context, params StartParams) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	s.started = true
	s.mu.Unlock()

	for id := 1; id <= s.opts.Workers; id++ {
		handle, err := s.opts.Spawner.Spawn(ctx, id)
		if err != nil {
			s.finishStart()
			_ = s.Stop(context.Background())
			return err
		}
		w := &workerProc{id: id, handle: handle, ready: make(chan error, 1), state: "starting"}
		s.mu.Lock()
		s.workers = append(s.workers, w)
		s.mu.Unlock()

		s.metrics.spawns.Inc()
		s.metrics.running.Inc()
		s.alive.Add(1)
		go s.watch(w)

		if err := handle.Send(Command{Action: ActionStart, Params: &params}); err != nil {
			w.report(fmt.Errorf("worker #%d: %w", id, err))
		}
		s.logger.WithFields(logrus.Fields{
			"action": "spawn",
			"worker": id,
			"pid":    handle.PID(),
		}).Debug("worker process spawned")
	}
	s.finishStart()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, w := range s.snapshot() {
		w := w
		group.Go(func() error {
			select {
			case err := <-w.ready:
				return err
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		})
	}
	if err := group.Wait(); err != nil {
		_ = s.Stop(context.Background())
		return err
	}
	return nil
}

// finishStart 在全部 worker 创建完成后启动 done 监视。
func (s *Supervisor) finishStart() {
	go func() {
		s.alive.Wait()
		close(s.done)
	}()
}

// watch 消费单个 worker 的状态流直到进程退出。
func (s *Supervisor) watch(w *workerProc) {
	defer s.alive.Done()
	for st := range w.handle.Statuses() {
		switch st.Event {
		case EventReady:
			w.setState("running", st.Ports)
			s.logger.WithFields(logrus.Fields{
				"action": "ready",
				"worker": w.id,
				"pid":    st.PID,
				"ports":  st.Ports,
			}).Info("worker ready")
			w.report(nil)
		case EventFailed:
			w.setState("failed", nil)
			w.report(fmt.Errorf("worker #%d: %s", w.id, st.Error))
		case EventStopped:
			w.setState("stopped", nil)
		}
	}

	<-w.handle.Done()
	exitErr := w.handle.Err()
	w.report(fmt.Errorf("worker #%d: %w (%v)", w.id, ErrWorkerExited, exitErr))
	w.setState("exited", nil)
	s.metrics.running.Dec()

	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()

	fields := logrus.Fields{"action": "exit", "worker": w.id, "pid": w.handle.PID()}
	if exitErr != nil {
		fields["error"] = exitErr.Error()
	}
	if stopping {
		s.logger.WithFields(fields).Debug("worker exited")
		return
	}
	s.metrics.unexpectedExits.Inc()
	s.logger.WithFields(fields).Error("worker exited unexpectedly")
}

// Stop 独立地停止每个 worker：发送 stop 后开始倒计时，超时则强制结束。
// 所有 worker 退出（或被结束）后返回，不会因为无响应的 worker 而挂起。
func (s *Supervisor) Stop(ctx context.Context) error {
	started := time.Now()
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		killed int
	)
	for _, w := range s.snapshot() {
		wg.Add(1)
		go func(w *workerProc) {
			defer wg.Done()
			forced, err := s.stopWorker(ctx, w)
			mu.Lock()
			if forced {
				killed++
			}
			if err != nil {
				errs = append(errs, err)
			}
			mu.Unlock()
		}(w)
	}
	wg.Wait()

	s.metrics.stopDuration.Observe(time.Since(started).Seconds())
	s.logger.WithFields(logrus.Fields{
		"action":  "stop",
		"workers": len(s.snapshot()),
		"killed":  killed,
		"elapsed": time.Since(started).String(),
	}).Info("worker pool stopped")
	return errors.Join(errs...)
}

func (s *Supervisor) stopWorker(ctx context.Context, w *workerProc) (bool, error) {
	select {
	case <-w.handle.Done():
		return false, nil
	default:
	}

	// stop 发送失败通常意味着进程已经退出，倒计时仍然兜底。
	_ = w.handle.Send(Command{Action: ActionStop})

	timer := time.NewTimer(s.opts.KillTimeout)
	defer timer.Stop()
	select {
	case <-w.handle.Done():
		return false, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	s.metrics.forceKills.Inc()
	s.logger.WithFields(logrus.Fields{
		"action": "kill",
		"worker": w.id,
		"pid":    w.handle.PID(),
	}).Warn("worker did not stop in time, killing it")
	if err := w.handle.Kill(); err != nil {
		select {
		case <-w.handle.Done():
			return true, nil
		default:
		}
		return true, fmt.Errorf("kill worker #%d: %w", w.id, err)
	}
	<-w.handle.Done()
	return true, nil
}

// Done 在全部 worker 进程退出后关闭。
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Workers 返回所有 worker 的状态快照。
func (s *Supervisor) Workers() []WorkerInfo {
	procs := s.snapshot()
	infos := make([]WorkerInfo, 0, len(procs))
	for _, w := range procs {
		w.mu.Lock()
		infos = append(infos, WorkerInfo{
			ID:    w.id,
			PID:   w.handle.PID(),
			State: w.state,
			Ports: append([]int(nil), w.ports...),
		})
		w.mu.Unlock()
	}
	return infos
}

func (s *Supervisor) snapshot() []*workerProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*workerProc(nil), s.workers...)
}
