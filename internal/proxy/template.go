package proxy

import (
	"regexp"
	"strings"
)

var (
	namePlaceholder = regexp.MustCompile(`(?i)\$\{name\}`)
	envPlaceholder  = regexp.MustCompile(`(?i)\$\{ENV\.(.+?)\}`)
)

// Resolver 替换模板中的 ${name} 与 ${ENV.KEY}；env 的键需为小写。
type Resolver struct {
	env map[string]string
}

// NewResolver 复制 env 并将键归一为小写，以支持大小写无关查找。
func NewResolver(env map[string]string) Resolver {
	normalized := make(map[string]string, len(env))
	for key, value := range env {
		normalized[strings.ToLower(strings.TrimSpace(key))] = value
	}
	return Resolver{env: normalized}
}

// Resolve 返回替换后的字符串；不存在的环境变量替换为空串。
func (r Resolver) Resolve(value, name string) string {
	if !strings.Contains(value, "${") {
		return value
	}
	value = namePlaceholder.ReplaceAllLiteralString(value, name)
	return envPlaceholder.ReplaceAllStringFunc(value, func(match string) string {
		key := envPlaceholder.FindStringSubmatch(match)[1]
		return r.env[strings.ToLower(strings.TrimSpace(key))]
	})
}
