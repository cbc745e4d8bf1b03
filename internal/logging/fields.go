package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ServerFields 提供 worker/监听地址字段，供服务器生命周期日志复用。
func ServerFields(worker int, scheme, address string, port int) logrus.Fields {
	return logrus.Fields{
		"worker":  worker,
		"scheme":  scheme,
		"address": address,
		"port":    port,
	}
}

// RequestFields 提供单个代理请求的结构化字段，与访问日志行一同输出。
func RequestFields(entry AccessEntry, requestID string) logrus.Fields {
	return logrus.Fields{
		"request_id":  requestID,
		"host":        entry.Host,
		"method":      entry.Method,
		"path":        entry.URL,
		"status":      entry.Status,
		"bytes":       entry.ContentLength,
		"remote_addr": entry.RemoteAddr,
		"remote_user": RemoteUser(entry.Authorization),
	}
}
