package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/any-hub/reverse-proxy/internal/route"
)

// validate 针对单个服务器定义做语义校验，防止非法配置进入 worker。
func (d ServerDefinition) validate(idx int) error {
	if strings.TrimSpace(d.Address) == "" {
		return newFieldError(serverField(idx, "address"), "不能为空")
	}
	if d.Port < 0 || d.Port > 65535 {
		return newFieldError(serverField(idx, "port"), "必须在 0-65535")
	}
	if _, err := route.NewTable(d.Routes, d.Target); err != nil {
		return fmt.Errorf("%s: %w", serverField(idx, "routes"), err)
	}
	if d.Proxy.ProxyTimeout.DurationValue() < 0 {
		return newFieldError(serverField(idx, "proxy.proxyTimeout"), "不能为负数")
	}
	if d.Proxy.Timeout.DurationValue() < 0 {
		return newFieldError(serverField(idx, "proxy.timeout"), "不能为负数")
	}
	if d.SSL != nil && len(d.SSL.PFX) == 0 && (len(d.SSL.Cert) == 0) != (len(d.SSL.Key) == 0) {
		return newFieldError(serverField(idx, "ssl"), "cert 与 key 必须同时提供")
	}
	return nil
}

// Validate 校验 CLI/环境变量汇总后的运行参数。
func (o RuntimeOptions) Validate() error {
	if o.Port < 0 || o.Port > 65535 {
		return newFieldError("port", "必须在 0-65535")
	}
	if o.Workers < 0 {
		return newFieldError("workers", "不能为负数")
	}
	if o.KillTimeout.DurationValue() < 0 {
		return newFieldError("kill-timeout", "不能为负数")
	}
	if strings.TrimSpace(o.ConfigPath) == "" && strings.TrimSpace(o.Target) == "" {
		return ErrNoTarget
	}
	return nil
}

// IsFieldError 判断错误链中是否包含 FieldError。
func IsFieldError(err error) bool {
	var fe FieldError
	return errors.As(err, &fe)
}
