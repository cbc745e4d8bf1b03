package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/reverse-proxy/internal/logging"
	"github.com/any-hub/reverse-proxy/internal/privilege"
	"github.com/any-hub/reverse-proxy/internal/worker"
)

// RunWorker 是 worker 进程侧的指令循环：
// start → 启动全部服务器并回报 ready/failed；stop、输入结束或 ctx 取消 → 关闭服务器并回报 stopped。
// 日志以 JSON 行写入 logOut，由 supervisor 按行转发。
func RunWorker(ctx context.Context, id int, in io.Reader, out io.Writer, logOut io.Writer) error {
	status := newMessageWriter(out)
	commands := make(chan Command)
	quit := make(chan struct{})
	defer close(quit)
	go func() {
		defer close(commands)
		dec := json.NewDecoder(in)
		for {
			var cmd Command
			if err := dec.Decode(&cmd); err != nil {
				return
			}
			select {
			case commands <- cmd:
			case <-quit:
				return
			}
		}
	}()

	var (
		w      *worker.Worker
		logger *logrus.Logger
	)
	shutdown := func() error {
		if w != nil {
			w.Stop(context.Background())
		}
		return status.write(Status{Event: EventStopped, Worker: id, PID: os.Getpid()})
	}

	for {
		select {
		case <-ctx.Done():
			return shutdown()
		case cmd, ok := <-commands:
			if !ok {
				return shutdown()
			}
			switch cmd.Action {
			case ActionStart:
				if w != nil {
					logger.WithField("worker", id).Warn("worker already started, ignoring start command")
					continue
				}
				var err error
				w, logger, err = startWorker(ctx, id, cmd.Params, logOut)
				if err != nil {
					if w != nil {
						w.Stop(context.Background())
					}
					_ = status.write(Status{Event: EventFailed, Worker: id, PID: os.Getpid(), Error: err.Error()})
					return err
				}
				if err := status.write(Status{Event: EventReady, Worker: id, PID: os.Getpid(), Ports: readyPorts(w)}); err != nil {
					return err
				}
			case ActionStop:
				return shutdown()
			default:
				if logger != nil {
					logger.WithFields(logrus.Fields{"worker": id, "command": cmd.Action}).Warn("unknown command")
				}
			}
		}
	}
}

func startWorker(ctx context.Context, id int, params *StartParams, logOut io.Writer) (*worker.Worker, *logrus.Logger, error) {
	if params == nil {
		return nil, nil, errors.New("start command without parameters")
	}

	logCfg := params.Log
	logCfg.FilePath = ""
	logger, err := logging.InitLogger(logCfg)
	if err != nil {
		return nil, nil, err
	}
	if !logCfg.Silent && logOut != nil {
		logger.SetOutput(logOut)
	}

	w := worker.New(id, logger, params.Debug)
	if _, err := w.Start(ctx, params.Servers); err != nil {
		return w, logger, err
	}

	if params.User != "" {
		identity, err := privilege.Drop(params.User)
		if err != nil {
			return w, logger, err
		}
		logger.WithFields(logrus.Fields{
			"action": "drop_privileges",
			"worker": id,
			"user":   identity.Name,
			"uid":    identity.UID,
		}).Info(fmt.Sprintf("worker #%d now runs as %s", id, identity.Name))
	}
	return w, logger, nil
}

func readyPorts(w *worker.Worker) []int {
	servers := w.Servers()
	ports := make([]int, 0, len(servers))
	for _, info := range servers {
		ports = append(ports, info.Port)
	}
	return ports
}
