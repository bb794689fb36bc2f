package proxy

import (
	"encoding/json"
)

// Signature 序列化 [url, method, body, pickKeys, omitKeys, [k, v]...]，用于判断缓存值能否复用。
// body/pickKeys/omitKeys 取请求中的原始 JSON，缺省时为 null；headers 需已按键排序。
func Signature(url, method string, body, pickKeys, omitKeys json.RawMessage, headers [][2]string) (string, error) {
	parts := make([]any, 0, 5+len(headers))
	parts = append(parts, url, method, rawOrNull(body), rawOrNull(pickKeys), rawOrNull(omitKeys))
	for _, header := range headers {
		parts = append(parts, header)
	}
	encoded, err := json.Marshal(parts)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
