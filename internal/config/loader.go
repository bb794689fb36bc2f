package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值、命令行覆盖项与校验逻辑。
// path 为空时完全使用默认值，开发服务器无需配置文件即可启动。
func Load(path string, overrides Overrides) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)
	overrides.Apply(&cfg)
	cfg.Fallback = strings.TrimPrefix(strings.TrimSpace(cfg.Fallback), "/")

	env, err := buildEnv(cfg, path)
	if err != nil {
		return nil, err
	}
	cfg.Env = env

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("无法解析根目录: %w", err)
	}
	cfg.Root = absRoot

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8080)
	v.SetDefault("Root", ".")
	v.SetDefault("Fallback", "index.html")
	v.SetDefault("HotModuleURL", "https://esm.sh/v135/hot")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("NotifyHeartbeat", "10s")
	v.SetDefault("CoalesceContent", false)
}

func applyDefaults(c *Config) {
	if c.ListenPort == 0 {
		c.ListenPort = 8080
	}
	if strings.TrimSpace(c.Root) == "" {
		c.Root = "."
	}
	if strings.TrimSpace(c.Fallback) == "" {
		c.Fallback = "index.html"
	}
	if c.UpstreamTimeout.DurationValue() == 0 {
		c.UpstreamTimeout = Duration(30 * time.Second)
	}
	if c.NotifyHeartbeat.DurationValue() == 0 {
		c.NotifyHeartbeat = Duration(10 * time.Second)
	}
}

// buildEnv 合并 EnvFile 与 [Env] 表，后者优先；键统一转为小写以支持大小写无关查找。
func buildEnv(cfg Config, configPath string) (map[string]string, error) {
	merged := make(map[string]string)

	if file := strings.TrimSpace(cfg.EnvFile); file != "" {
		if !filepath.IsAbs(file) && configPath != "" {
			file = filepath.Join(filepath.Dir(configPath), file)
		}
		values, err := godotenv.Read(file)
		if err != nil {
			return nil, newFieldError("EnvFile", fmt.Sprintf("读取失败: %v", err))
		}
		for key, value := range values {
			merged[strings.ToLower(strings.TrimSpace(key))] = value
		}
	}

	for key, value := range cfg.Env {
		merged[strings.ToLower(strings.TrimSpace(key))] = value
	}
	return merged, nil
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

// rootExists 报告 Root 是否存在且为目录。
func rootExists(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s 不是目录", root)
	}
	return nil
}
