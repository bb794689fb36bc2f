package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(c.Root) == "" {
		return newFieldError("Root", "不能为空")
	}
	if err := rootExists(c.Root); err != nil {
		return newFieldError("Root", err.Error())
	}
	if err := validateFallback(c.Fallback); err != nil {
		return newFieldError("Fallback", err.Error())
	}
	if err := validateModuleURL(c.HotModuleURL); err != nil {
		return fmt.Errorf("HotModuleURL: %w", err)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return newFieldError("LogLevel", err.Error())
	}
	if c.LogMaxSize < 0 {
		return newFieldError("LogMaxSize", "不能为负数")
	}
	if c.LogMaxBackups < 0 {
		return newFieldError("LogMaxBackups", "不能为负数")
	}
	if c.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}
	if c.NotifyHeartbeat.DurationValue() <= 0 {
		return newFieldError("NotifyHeartbeat", "必须大于 0")
	}
	for key := range c.Env {
		if key == "" {
			return newFieldError("Env", "变量名不能为空")
		}
	}

	return nil
}

func validateFallback(name string) error {
	if name == "" {
		return errors.New("不能为空")
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return errors.New("不允许包含 ..")
		}
	}
	return nil
}

func validateModuleURL(raw string) error {
	if raw == "" {
		return errors.New("缺少模块地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
