package route

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidFormat 表示路由定义的形状无法识别（数组、布尔、null、缺少 uri 等）。
var ErrInvalidFormat = errors.New("the route has an invalid format")

// Kind 标记 Definition 的具体形态。
type Kind string

const (
	// KindPort 表示裸端口号，目标为本机回环地址。
	KindPort Kind = "port"
	// KindAddress 表示字符串形式的 URI 或 host:port。
	KindAddress Kind = "address"
)

// Definition 是用户输入的目标定义（number | string | {uri, headers}）经过类型化后的结果。
// 它可以被 JSON 序列化，随启动消息一起发送给 worker 进程。
type Definition struct {
	Kind    Kind              `json:"kind"`
	Port    int               `json:"port,omitempty"`
	Address string            `json:"address,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// PortDefinition 构造裸端口形式的定义。
func PortDefinition(port int) Definition {
	return Definition{Kind: KindPort, Port: port}
}

// AddressDefinition 构造字符串形式的定义。
func AddressDefinition(address string) Definition {
	return Definition{Kind: KindAddress, Address: address}
}

// WithHeaders 返回附带 header 覆盖表的副本。
func (d Definition) WithHeaders(headers map[string]string) Definition {
	if len(headers) == 0 {
		d.Headers = nil
		return d
	}
	d.Headers = make(map[string]string, len(headers))
	for key, value := range headers {
		d.Headers[key] = value
	}
	return d
}

// String 输出便于日志展示的目标描述。
func (d Definition) String() string {
	switch d.Kind {
	case KindPort:
		return fmt.Sprintf("%d", d.Port)
	case KindAddress:
		return d.Address
	default:
		return "<invalid>"
	}
}

// ParseDefinition 将 JSON/YAML 解码得到的原始值转换为 Definition。
// 支持整数端口、字符串以及包含 uri/headers 的对象，其余形状返回 ErrInvalidFormat。
func ParseDefinition(raw any) (Definition, error) {
	switch value := raw.(type) {
	case map[string]any:
		return parseObject(value)
	case map[any]any:
		converted := make(map[string]any, len(value))
		for key, item := range value {
			name, ok := key.(string)
			if !ok {
				return Definition{}, fmt.Errorf("%w: non-string key %v", ErrInvalidFormat, key)
			}
			converted[name] = item
		}
		return parseObject(converted)
	case Definition:
		return value, nil
	case *Definition:
		if value == nil {
			return Definition{}, ErrInvalidFormat
		}
		return *value, nil
	default:
		return parseScalar(raw)
	}
}

func parseObject(obj map[string]any) (Definition, error) {
	rawURI, ok := obj["uri"]
	if !ok {
		return Definition{}, fmt.Errorf("%w: missing uri", ErrInvalidFormat)
	}
	def, err := parseScalar(rawURI)
	if err != nil {
		return Definition{}, err
	}

	rawHeaders, ok := obj["headers"]
	if !ok || rawHeaders == nil {
		return def, nil
	}

	headers := map[string]string{}
	switch hv := rawHeaders.(type) {
	case map[string]any:
		for key, item := range hv {
			text, err := headerValue(item)
			if err != nil {
				return Definition{}, fmt.Errorf("%w: header %s", err, key)
			}
			headers[key] = text
		}
	case map[any]any:
		for key, item := range hv {
			name, ok := key.(string)
			if !ok {
				return Definition{}, fmt.Errorf("%w: non-string header name %v", ErrInvalidFormat, key)
			}
			text, err := headerValue(item)
			if err != nil {
				return Definition{}, fmt.Errorf("%w: header %s", err, name)
			}
			headers[name] = text
		}
	case map[string]string:
		for key, item := range hv {
			headers[key] = item
		}
	default:
		return Definition{}, fmt.Errorf("%w: headers must be a mapping", ErrInvalidFormat)
	}
	return def.WithHeaders(headers), nil
}

func parseScalar(raw any) (Definition, error) {
	switch value := raw.(type) {
	case int:
		return PortDefinition(value), nil
	case int64:
		return PortDefinition(int(value)), nil
	case uint64:
		return PortDefinition(int(value)), nil
	case float64:
		// encoding/json 将数字解码为 float64，仅接受整数值。
		if value != math.Trunc(value) || math.IsInf(value, 0) {
			return Definition{}, fmt.Errorf("%w: port %v is not an integer", ErrInvalidFormat, value)
		}
		return PortDefinition(int(value)), nil
	case string:
		if strings.TrimSpace(value) == "" {
			return Definition{}, fmt.Errorf("%w: empty uri", ErrInvalidFormat)
		}
		return AddressDefinition(value), nil
	default:
		return Definition{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidFormat, raw)
	}
}

func headerValue(raw any) (string, error) {
	switch value := raw.(type) {
	case string:
		return value, nil
	case int, int64, float64, bool:
		return fmt.Sprint(value), nil
	default:
		return "", ErrInvalidFormat
	}
}
