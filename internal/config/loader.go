package config

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"

	"github.com/any-hub/reverse-proxy/internal/route"
)

// Loader 负责从文件系统读取配置文档并转换为 ServerDefinition 列表。
// 缺失的 address/port 使用 Defaults 中的 CLI 值补齐。
type Loader struct {
	FS       afero.Fs
	Defaults RuntimeOptions
}

// NewLoader 创建基于给定文件系统的 Loader，fs 为空时使用真实磁盘。
func NewLoader(fs afero.Fs, defaults RuntimeOptions) *Loader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Loader{FS: fs, Defaults: defaults}
}

// LoadFile 读取并解析配置文件。
func (l *Loader) LoadFile(path string) ([]ServerDefinition, error) {
	data, err := afero.ReadFile(l.FS, path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	return l.Parse(data)
}

// Parse 解析 JSON 或 YAML 文档，返回按文档顺序排列的服务器定义。
func (l *Loader) Parse(data []byte) ([]ServerDefinition, error) {
	docs, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}

	defs := make([]ServerDefinition, 0, len(docs))
	for idx, doc := range docs {
		def, err := l.parseServer(idx, doc)
		if err != nil {
			return nil, err
		}
		if err := def.validate(idx); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (l *Loader) parseServer(idx int, raw map[string]any) (ServerDefinition, error) {
	def := ServerDefinition{
		Address: l.Defaults.Address,
		Port:    l.Defaults.Port,
	}

	rawRoutes, hasRoutes := raw["routes"]
	rawTarget, hasTarget := raw["target"]
	// 只要求键存在：routes 为空或 null 时得到空路由表，所有请求返回 404。
	if !hasRoutes && !hasTarget {
		return def, newFieldError(serverField(idx, "routes"), "you must provide at least a target or a routing table")
	}

	if hasRoutes {
		def.Routes = map[string]route.Definition{}
	}
	if hasRoutes && rawRoutes != nil {
		table, ok := toStringMap(rawRoutes)
		if !ok {
			return def, newFieldError(serverField(idx, "routes"), "must be a mapping of hostnames")
		}
		def.Routes = make(map[string]route.Definition, len(table))
		for host, item := range table {
			parsed, err := route.ParseDefinition(item)
			if err != nil {
				return def, fmt.Errorf("%s: %w", serverField(idx, "routes."+host), err)
			}
			def.Routes[host] = parsed
		}
	}

	if hasTarget && rawTarget != nil {
		parsed, err := route.ParseDefinition(rawTarget)
		if err != nil {
			return def, fmt.Errorf("%s: %w", serverField(idx, "target"), err)
		}
		def.Target = &parsed
	}

	if value, ok := raw["address"]; ok && value != nil {
		address, ok := value.(string)
		if !ok {
			return def, newFieldError(serverField(idx, "address"), "must be a string")
		}
		if trimmed := strings.TrimSpace(address); trimmed != "" {
			def.Address = trimmed
		}
	}

	if value, ok := raw["port"]; ok && value != nil {
		port, err := toInt(value)
		if err != nil {
			return def, newFieldError(serverField(idx, "port"), err.Error())
		}
		if port < 0 {
			port = 0
		}
		def.Port = port
	}

	if value, ok := raw["proxy"]; ok && value != nil {
		if err := decodeForwardOptions(value, &def.Proxy); err != nil {
			return def, fmt.Errorf("%s: %w", serverField(idx, "proxy"), err)
		}
	}

	if value, ok := raw["ssl"]; ok && value != nil {
		ssl, err := l.loadSSL(idx, value)
		if err != nil {
			return def, err
		}
		def.SSL = ssl
	}

	return def, nil
}

// loadSSL 将 ssl 段中的 ca/cert/key/pfx 文件路径读取为字节内容。
func (l *Loader) loadSSL(idx int, raw any) (*SSLConfig, error) {
	section, ok := toStringMap(raw)
	if !ok {
		return nil, newFieldError(serverField(idx, "ssl"), "must be a mapping")
	}

	ssl := &SSLConfig{}
	targets := map[string]*[]byte{
		"ca":   &ssl.CA,
		"cert": &ssl.Cert,
		"key":  &ssl.Key,
		"pfx":  &ssl.PFX,
	}
	for key, dst := range targets {
		value, ok := section[key]
		if !ok || value == nil {
			continue
		}
		paths, err := filePaths(value)
		if err != nil {
			return nil, newFieldError(serverField(idx, "ssl."+key), err.Error())
		}
		for _, path := range paths {
			content, err := afero.ReadFile(l.FS, path)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", serverField(idx, "ssl."+key), err)
			}
			*dst = append(*dst, content...)
		}
	}

	if value, ok := section["passphrase"]; ok && value != nil {
		text, ok := value.(string)
		if !ok {
			return nil, newFieldError(serverField(idx, "ssl.passphrase"), "must be a string")
		}
		ssl.Passphrase = text
	}

	if ssl.Empty() {
		return nil, nil
	}
	return ssl, nil
}

// InlineDefinition 根据 --target/--address/--port 构造单个服务器定义。
// 纯数字的 target 视为本机端口。
func InlineDefinition(opts RuntimeOptions) (ServerDefinition, error) {
	raw := strings.TrimSpace(opts.Target)
	if raw == "" {
		return ServerDefinition{}, ErrNoTarget
	}

	var target route.Definition
	if port, err := strconv.Atoi(raw); err == nil {
		target = route.PortDefinition(port)
	} else {
		target = route.AddressDefinition(raw)
	}

	def := ServerDefinition{
		Address: opts.Address,
		Port:    opts.Port,
		Target:  &target,
	}
	if def.Port < 0 {
		def.Port = 0
	}
	if err := def.validate(0); err != nil {
		return ServerDefinition{}, err
	}
	return def, nil
}

// Definitions 汇总运行参数：提供配置文件时从文件加载，否则使用 --target。
func Definitions(fs afero.Fs, opts RuntimeOptions) ([]ServerDefinition, error) {
	if path := strings.TrimSpace(opts.ConfigPath); path != "" {
		return NewLoader(fs, opts).LoadFile(path)
	}
	def, err := InlineDefinition(opts)
	if err != nil {
		return nil, err
	}
	return []ServerDefinition{def}, nil
}

func decodeForwardOptions(raw any, dst *ForwardOptions) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       durationDecodeHook(),
		WeaklyTypedInput: true,
		ErrorUnused:      false,
		Result:           dst,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

func filePaths(raw any) ([]string, error) {
	switch value := raw.(type) {
	case string:
		if strings.TrimSpace(value) == "" {
			return nil, nil
		}
		return []string{value}, nil
	case []any:
		paths := make([]string, 0, len(value))
		for _, item := range value {
			text, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("file path must be a string, got %T", item)
			}
			paths = append(paths, text)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("file path must be a string, got %T", raw)
	}
}

func toInt(raw any) (int, error) {
	switch value := raw.(type) {
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case uint64:
		return int(value), nil
	case float64:
		if value != math.Trunc(value) {
			return 0, fmt.Errorf("must be an integer, got %v", value)
		}
		return int(value), nil
	case string:
		parsed, err := parseInt(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("must be an integer, got %q", value)
		}
		return int(parsed), nil
	default:
		return 0, fmt.Errorf("must be an integer, got %T", raw)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
