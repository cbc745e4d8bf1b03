package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/reverse-proxy/internal/route"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "2s"、"500ms" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// MarshalText 输出 Go Duration 字符串，保证定义经 JSON 发送给 worker 后可以原样解析。
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

const (
	// DefaultAddress 是未指定 address 时监听的接口。
	DefaultAddress = "0.0.0.0"
	// DefaultPort 是未指定 port 时监听的端口。
	DefaultPort = 8080
	// DefaultKillTimeout 是 worker 收到 stop 后被强制结束前的等待时间。
	DefaultKillTimeout = 2 * time.Second
)

// LogConfig 描述日志输出行为，supervisor 与 worker 共用同一份参数。
type LogConfig struct {
	Level      string `mapstructure:"log-level" json:"level"`
	FilePath   string `mapstructure:"log-file" json:"file_path,omitempty"`
	MaxSize    int    `mapstructure:"log-max-size" json:"max_size,omitempty"`
	MaxBackups int    `mapstructure:"log-max-backups" json:"max_backups,omitempty"`
	Compress   bool   `mapstructure:"log-compress" json:"compress,omitempty"`
	Silent     bool   `mapstructure:"silent" json:"silent,omitempty"`
}

// RuntimeOptions 汇总 CLI 标志与环境变量解析后的运行参数。
type RuntimeOptions struct {
	Address       string    `mapstructure:"address"`
	Port          int       `mapstructure:"port"`
	Target        string    `mapstructure:"target"`
	ConfigPath    string    `mapstructure:"config"`
	Workers       int       `mapstructure:"workers"`
	User          string    `mapstructure:"user"`
	Environment   string    `mapstructure:"environment"`
	KillTimeout   Duration  `mapstructure:"kill-timeout"`
	StatusAddress string    `mapstructure:"status-address"`
	CheckOnly     bool      `mapstructure:"check-config"`
	Log           LogConfig `mapstructure:",squash"`
}

// Debug 在 development/test 环境下为 true，用于输出更详细的错误信息。
func (o RuntimeOptions) Debug() bool {
	switch strings.ToLower(strings.TrimSpace(o.Environment)) {
	case "", "development", "test":
		return true
	default:
		return false
	}
}

// ForwardOptions 是透传给转发引擎的选项，字段名沿用 http-proxy 的写法。
type ForwardOptions struct {
	// XForward 为 true 时追加 X-Forwarded-For/Host/Proto。
	XForward bool `mapstructure:"xfwd" json:"xfwd,omitempty"`
	// ChangeOrigin 为 true 时把 Host 改写为目标地址，否则保留客户端的 Host。
	ChangeOrigin bool `mapstructure:"changeOrigin" json:"changeOrigin,omitempty"`
	// Secure 控制是否校验上游 TLS 证书，未设置时默认校验。
	Secure *bool `mapstructure:"secure" json:"secure,omitempty"`
	// Headers 会附加到每个发往上游的请求上。
	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	// ProxyTimeout 限制等待上游响应头的时间。
	ProxyTimeout Duration `mapstructure:"proxyTimeout" json:"proxyTimeout,omitempty"`
	// Timeout 限制与上游建立连接的时间。
	Timeout Duration `mapstructure:"timeout" json:"timeout,omitempty"`
}

// VerifyTLS 返回是否需要校验上游证书。
func (o ForwardOptions) VerifyTLS() bool {
	return o.Secure == nil || *o.Secure
}

// SSLConfig 保存已经读取为字节内容的证书材料。
type SSLConfig struct {
	CA         []byte `json:"ca,omitempty"`
	Cert       []byte `json:"cert,omitempty"`
	Key        []byte `json:"key,omitempty"`
	PFX        []byte `json:"pfx,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// Empty 表示未提供任何证书材料。
func (s *SSLConfig) Empty() bool {
	return s == nil || (len(s.Cert) == 0 && len(s.Key) == 0 && len(s.PFX) == 0)
}

// ServerDefinition 描述一个代理服务器实例。它由配置解析产生，
// 通过 IPC 消息发送给每个 worker，并被 ProxyServer 构造函数消费一次。
type ServerDefinition struct {
	Address string                      `json:"address"`
	Port    int                         `json:"port"`
	Routes  map[string]route.Definition `json:"routes,omitempty"`
	Target  *route.Definition           `json:"target,omitempty"`
	Proxy   ForwardOptions              `json:"proxy"`
	SSL     *SSLConfig                  `json:"ssl,omitempty"`
}

// Secure 表示该服务器是否以 TLS 方式监听。
func (d ServerDefinition) Secure() bool {
	return !d.SSL.Empty()
}

// Scheme 返回监听协议名称，用于日志输出。
func (d ServerDefinition) Scheme() string {
	if d.Secure() {
		return "https"
	}
	return "http"
}
