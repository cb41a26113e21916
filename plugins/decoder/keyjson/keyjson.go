// Package keyjson 把模型输出解码为 path→文本 映射。
package keyjson

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"catfix/pkg/contract"
)

// Options: 解码宽松度。
type Options struct {
	// StripFences: 剥离 ```json ... ``` 代码围栏后再解析。
	StripFences bool `json:"strip_fences"`
	// DetectEcho: 多条成句输出全部与原文一致时视为协议违例；默认开启。
	DetectEcho *bool `json:"detect_echo,omitempty"`
}

type decoder struct {
	stripFences bool
	detectEcho  bool
}

// New 从原样 JSON Options 创建解码器。
func New(raw json.RawMessage) (contract.Decoder, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("keyjson options: %v: %w", err, contract.ErrInvalidInput)
		}
	}
	d := &decoder{stripFences: opts.StripFences, detectEcho: true}
	if opts.DetectEcho != nil {
		d.detectEcho = *opts.DetectEcho
	}
	return d, nil
}

// Decode 接受 {"translations":{key:text}} 或扁平 {key:text}。
// 只保留请求中出现过的键；值必须为非空字符串。
func (d *decoder) Decode(ctx context.Context, req contract.FillRequest, raw contract.Raw) (map[string]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	text := strings.TrimSpace(raw.Text)
	if d.stripFences {
		text = stripFences(text)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &top); err != nil {
		return nil, fmt.Errorf("decode json object: %w", contract.ErrResponseInvalid)
	}
	body := top
	if inner, ok := top["translations"]; ok {
		body = nil
		if err := json.Unmarshal(inner, &body); err != nil || body == nil {
			return nil, fmt.Errorf("translations is not an object: %w", contract.ErrResponseInvalid)
		}
	}

	src := make(map[string]string, len(req.Entries))
	for _, e := range req.Entries {
		src[e.Key] = e.Value
	}
	out := make(map[string]string, len(req.Entries))
	for k, v := range body {
		if _, ok := src[k]; !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("non-string value for %q: %w", k, contract.ErrResponseInvalid)
		}
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("empty text for %q: %w", k, contract.ErrResponseInvalid)
		}
		out[k] = s
	}
	if d.detectEcho && isEcho(req, src, out) {
		return nil, fmt.Errorf("echoed original detected: %w", contract.ErrResponseInvalid)
	}
	return out, nil
}

// 回显判定门槛：条目数下限与“成句”词数下限。
const (
	echoMinEntries = 3
	echoMinWords   = 3
)

// isEcho: 源/目标语言不同、至少 echoMinEntries 条输出全部与原文一致（去首尾空白后），
// 且其中至少一条原文成句。与原文相同的短词条（OK、Email、品牌名、URL、占位符）是合法译文。
func isEcho(req contract.FillRequest, src, out map[string]string) bool {
	if len(out) < echoMinEntries || strings.EqualFold(req.SourceLanguage, req.TargetLanguage) {
		return false
	}
	prose := false
	for k, v := range out {
		s := strings.TrimSpace(src[k])
		if s == "" || s != strings.TrimSpace(v) {
			return false
		}
		prose = prose || isProse(s)
	}
	return prose
}

// isProse: 至少 echoMinWords 个含字母的词。
func isProse(s string) bool {
	n := 0
	for _, w := range strings.Fields(s) {
		if strings.IndexFunc(w, unicode.IsLetter) >= 0 {
			n++
		}
	}
	return n >= echoMinWords
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

var _ contract.Decoder = (*decoder)(nil)
