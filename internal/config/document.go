package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Format 标记配置文档的编码。
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DetectFormat 根据去除空白后的首尾字符判断文档格式：[...] 或 {...} 视为 JSON，其余按 YAML 处理。
func DetectFormat(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return FormatYAML
	}
	first, last := trimmed[0], trimmed[len(trimmed)-1]
	if (first == '[' && last == ']') || (first == '{' && last == '}') {
		return FormatJSON
	}
	return FormatYAML
}

// ParseDocument 将配置文档解析为服务器定义的原始映射列表。
// JSON 单个对象会被包装成单元素列表；YAML 支持多文档（--- 分隔）。
func ParseDocument(data []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("invalid configuration data")
	}

	var items []any
	switch DetectFormat(trimmed) {
	case FormatJSON:
		var doc any
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置失败: %w", err)
		}
		if list, ok := doc.([]any); ok {
			items = list
		} else {
			items = []any{doc}
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(trimmed))
		for {
			var doc any
			err := decoder.Decode(&doc)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
			}
			items = append(items, doc)
		}
	}

	result := make([]map[string]any, 0, len(items))
	for idx, item := range items {
		obj, ok := toStringMap(item)
		if !ok {
			return nil, newFieldError(serverField(idx, ""), "invalid configuration format")
		}
		result = append(result, obj)
	}
	if len(result) == 0 {
		return nil, errors.New("invalid configuration data")
	}
	return result, nil
}

// toStringMap 统一 JSON(map[string]any) 与 YAML(map[any]any) 的映射类型。
func toStringMap(raw any) (map[string]any, bool) {
	switch value := raw.(type) {
	case map[string]any:
		if value == nil {
			return nil, false
		}
		return value, true
	case map[any]any:
		result := make(map[string]any, len(value))
		for key, item := range value {
			name, ok := key.(string)
			if !ok {
				return nil, false
			}
			result[name] = item
		}
		return result, true
	default:
		return nil, false
	}
}
