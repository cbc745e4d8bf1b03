package route

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var schemePattern = regexp.MustCompile(`(?i)^https?:`)

// Route 是规范化后的代理目标：目标 URI 加上需要覆盖到请求上的 header。
// 构造后不可变，访问器返回副本。
type Route struct {
	uri     *url.URL
	headers map[string]string
}

// Normalize 把 Definition 转换为 Route：
//   - 裸端口 → http://127.0.0.1:<port>
//   - 缺少 http/https 前缀的字符串 → 补全 http://
//   - header 名称统一转为小写，值保持原样
//
// 该过程不做任何网络 I/O。
func Normalize(def Definition) (Route, error) {
	var raw string
	switch def.Kind {
	case KindPort:
		raw = fmt.Sprintf("http://127.0.0.1:%d", def.Port)
	case KindAddress:
		raw = strings.TrimSpace(def.Address)
		if raw == "" {
			return Route{}, fmt.Errorf("%w: empty uri", ErrInvalidFormat)
		}
		if !schemePattern.MatchString(raw) {
			raw = "http://" + raw
		}
	default:
		return Route{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidFormat, def.Kind)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if parsed.Host == "" {
		return Route{}, fmt.Errorf("%w: missing host in %q", ErrInvalidFormat, raw)
	}

	headers := make(map[string]string, len(def.Headers))
	for key, value := range def.Headers {
		headers[strings.ToLower(key)] = value
	}

	return Route{uri: parsed, headers: headers}, nil
}

// URI 返回目标地址的副本。
func (r Route) URI() *url.URL {
	if r.uri == nil {
		return nil
	}
	clone := *r.uri
	return &clone
}

// Headers 返回 header 覆盖表的副本（键均为小写）。
func (r Route) Headers() map[string]string {
	result := make(map[string]string, len(r.headers))
	for key, value := range r.headers {
		result[key] = value
	}
	return result
}

// String 返回目标 URI 的字符串形式。
func (r Route) String() string {
	if r.uri == nil {
		return ""
	}
	return r.uri.String()
}
