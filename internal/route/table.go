package route

import (
	"fmt"
	"sort"
	"strings"
)

// Wildcard 是兜底路由的键，在没有具体 hostname 命中时使用。
const Wildcard = "*"

// Table 提供 hostname 到 Route 的查询能力。构建后只读，并发请求无需加锁。
type Table struct {
	routes  map[string]Route
	ordered []string
}

// NewTable 根据路由定义与可选的标量 target 构建路由表。
// target 非空时安装为通配 "*" 条目；hostname 键在构建时统一转为小写。
func NewTable(routes map[string]Definition, target *Definition) (*Table, error) {
	table := &Table{routes: make(map[string]Route, len(routes)+1)}

	// map 遍历无序，按键排序以保证构建结果与错误信息稳定。
	keys := make([]string, 0, len(routes))
	for host := range routes {
		keys = append(keys, host)
	}
	sort.Strings(keys)

	for _, host := range keys {
		pattern := normalizePattern(host)
		if pattern == "" {
			return nil, fmt.Errorf("invalid hostname %q", host)
		}
		if _, exists := table.routes[pattern]; exists {
			return nil, fmt.Errorf("duplicate hostname mapping detected for %s", pattern)
		}
		normalized, err := Normalize(routes[host])
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", host, err)
		}
		table.set(pattern, normalized)
	}

	if target != nil {
		normalized, err := Normalize(*target)
		if err != nil {
			return nil, fmt.Errorf("target: %w", err)
		}
		table.set(Wildcard, normalized)
	}

	return table, nil
}

func (t *Table) set(pattern string, r Route) {
	if _, exists := t.routes[pattern]; !exists {
		t.ordered = append(t.ordered, pattern)
	}
	t.routes[pattern] = r
}

// Lookup 返回 hostname 对应的路由；不存在时回退到通配条目。
// pattern 为实际命中的键，ok=false 表示既无具体匹配也无通配路由。
func (t *Table) Lookup(hostname string) (Route, string, bool) {
	if t == nil {
		return Route{}, "", false
	}
	pattern := strings.ToLower(hostname)
	if _, ok := t.routes[pattern]; !ok {
		pattern = Wildcard
	}
	r, ok := t.routes[pattern]
	if !ok {
		return Route{}, "", false
	}
	return r, pattern, true
}

// Get 精确读取某个键。
func (t *Table) Get(pattern string) (Route, bool) {
	if t == nil {
		return Route{}, false
	}
	r, ok := t.routes[normalizePattern(pattern)]
	return r, ok
}

// Len 返回条目数量。
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

// Patterns 按安装顺序返回所有键。
func (t *Table) Patterns() []string {
	if t == nil || len(t.ordered) == 0 {
		return nil
	}
	return append([]string(nil), t.ordered...)
}

// Hostname 从 Host 头中提取 hostname：缺失时返回通配符 "*"，
// 否则去掉端口部分（首个 ":" 起）并转为小写，末尾的 "." 与路由键一样被去掉。
// IPv6 字面量 [::1]:80 保留方括号内的地址。
func Hostname(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return Wildcard
	}
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return strings.ToLower(host[1:end])
		}
	}
	if idx := strings.Index(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	if trimmed := strings.TrimSuffix(host, "."); trimmed != "" {
		host = trimmed
	}
	return strings.ToLower(host)
}

func normalizePattern(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == Wildcard {
		return Wildcard
	}
	return strings.TrimSuffix(strings.ToLower(raw), ".")
}
