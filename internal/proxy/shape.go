package proxy

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// Shape 对 JSON 对象依次应用 pick 与 omit；非对象值原样返回。
// pick 中不存在的键不会出现在结果里，omit 在 pick 之后执行。
func Shape(value []byte, pick, omit []string) ([]byte, error) {
	root := gjson.ParseBytes(value)
	if !root.IsObject() {
		return pretty.Ugly(value), nil
	}

	out := value
	if len(pick) > 0 {
		picked, err := pickKeys(root, pick)
		if err != nil {
			return nil, err
		}
		out = picked
	}
	for _, key := range omit {
		var err error
		out, err = sjson.DeleteBytes(out, gjson.Escape(key))
		if err != nil {
			return nil, err
		}
	}
	return pretty.Ugly(out), nil
}

func pickKeys(root gjson.Result, keys []string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		field := root.Get(gjson.Escape(key))
		if !field.Exists() {
			continue
		}
		seen[key] = struct{}{}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.WriteString(field.Raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
