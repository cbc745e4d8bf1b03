package config

import (
	"errors"
	"fmt"
)

// ErrNoTarget 表示既没有 --target 也没有 --config，无法确定代理目标。
var ErrNoTarget = errors.New("you must provide at least a target or a configuration file")

// FieldError 提供字段路径与错误原因，便于 CLI 向用户反馈。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// newFieldError 创建包含字段路径与原因的 error，便于 CLI 定位。
func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// serverField 用于拼接服务器级字段路径，输出 Server[#0].Field 形式。
func serverField(index int, field string) string {
	if index < 0 {
		return fmt.Sprintf("Server[].%s", field)
	}
	return fmt.Sprintf("Server[#%d].%s", index, field)
}
