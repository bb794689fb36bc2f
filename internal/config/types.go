package config

import (
	"sort"
	"time"
)

// Duration 同时兼容纯秒整数与 Go Duration 字符串，解析见 durationDecodeHook。
type Duration time.Duration

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// Config 是 TOML 文件映射的整体结构，一个实例对应一个服务根目录。
type Config struct {
	ListenPort      int               `mapstructure:"ListenPort"`
	Root            string            `mapstructure:"Root"`
	Fallback        string            `mapstructure:"Fallback"`
	HotModuleURL    string            `mapstructure:"HotModuleURL"`
	LogLevel        string            `mapstructure:"LogLevel"`
	LogFilePath     string            `mapstructure:"LogFilePath"`
	LogMaxSize      int               `mapstructure:"LogMaxSize"`
	LogMaxBackups   int               `mapstructure:"LogMaxBackups"`
	LogCompress     bool              `mapstructure:"LogCompress"`
	UpstreamTimeout Duration          `mapstructure:"UpstreamTimeout"`
	NotifyHeartbeat Duration          `mapstructure:"NotifyHeartbeat"`
	CoalesceContent bool              `mapstructure:"CoalesceContent"`
	EnvFile         string            `mapstructure:"EnvFile"`
	Env             map[string]string `mapstructure:"Env"`
}

// Overrides 汇总命令行传入的覆盖项，零值表示不覆盖。
type Overrides struct {
	Root       string
	ListenPort int
	Fallback   string
}

// Apply 将非零覆盖项写回配置，需在 Validate 之前调用。
func (o Overrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Root != "" {
		cfg.Root = o.Root
	}
	if o.ListenPort != 0 {
		cfg.ListenPort = o.ListenPort
	}
	if o.Fallback != "" {
		cfg.Fallback = o.Fallback
	}
}

// EnvKeys 返回已配置的环境变量名（已按小写归一），用于启动日志，不输出取值。
func (c *Config) EnvKeys() []string {
	if c == nil || len(c.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Env))
	for key := range c.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
