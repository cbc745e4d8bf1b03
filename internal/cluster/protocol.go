package cluster

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/any-hub/reverse-proxy/internal/config"
)

// Action 是 supervisor 发给 worker 的指令。
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Event 是 worker 回报给 supervisor 的状态。
type Event string

const (
	EventReady   Event = "ready"
	EventFailed  Event = "failed"
	EventStopped Event = "stopped"
)

// StartParams 随 start 指令发送，包含 worker 启动所需的全部信息。
type StartParams struct {
	Servers []config.ServerDefinition `json:"servers"`
	Log     config.LogConfig          `json:"log"`
	Debug   bool                      `json:"debug,omitempty"`
	User    string                    `json:"user,omitempty"`
}

// Command 是 supervisor → worker 的一条消息（每行一个 JSON 对象）。
type Command struct {
	Action Action       `json:"action"`
	Params *StartParams `json:"params,omitempty"`
}

// Status 是 worker → supervisor 的一条消息（每行一个 JSON 对象）。
type Status struct {
	Event  Event  `json:"event"`
	Worker int    `json:"worker"`
	PID    int    `json:"pid"`
	Ports  []int  `json:"ports,omitempty"`
	Error  string `json:"error,omitempty"`
}

// messageWriter 串行化写入，保证每条消息完整占据一行。
type messageWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newMessageWriter(w io.Writer) *messageWriter {
	return &messageWriter{enc: json.NewEncoder(w)}
}

func (m *messageWriter) write(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enc.Encode(v)
}
