package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 action/method/path/request_id 字段，供各个处理器的请求日志复用。
func RequestFields(action, method, path, requestID string) logrus.Fields {
	fields := logrus.Fields{
		"action": action,
		"method": method,
		"path":   path,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
