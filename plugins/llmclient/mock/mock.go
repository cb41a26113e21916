// Package mock 提供无网络的 LLM 客户端，用于联调与测试。
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"catfix/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	Prefix string `json:"prefix"` // 输出前缀，默认 "MOCK"
	// APIKey: 仅用于限流分组，不参与任何网络请求。
	APIKey string `json:"api_key"`
	// ResponseMode:
	//  - "" / "translations": {"translations":{key:"<prefix>: <value>"}}，与 keyjson 解码器即插即用；
	//  - "flat": 扁平 {key:"<prefix>: <value>"}；
	//  - "echo": 原样回显源文本（用于验证回显检测）；
	//  - "prompt": 回显 Prompt 摘要。
	ResponseMode string `json:"response_mode,omitempty"`
}

const (
	modeTranslations = "translations"
	modeFlat         = "flat"
	modeEcho         = "echo"
	modePrompt       = "prompt"
)

type Client struct {
	prefix string
	mode   string
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %v: %w", err, contract.ErrInvalidInput)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	mode := strings.TrimSpace(o.ResponseMode)
	switch mode {
	case "":
		mode = modeTranslations
	case modeTranslations, modeFlat, modeEcho, modePrompt:
	default:
		return nil, fmt.Errorf("mock: %w: unknown response_mode %q", contract.ErrInvalidInput, mode)
	}
	return &Client{prefix: o.Prefix, mode: mode}, nil
}

func (c *Client) Invoke(ctx context.Context, req contract.FillRequest, p contract.Prompt) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	switch c.mode {
	case modeTranslations, modeFlat, modeEcho:
		m := make(map[string]string, len(req.Entries))
		for _, e := range req.Entries {
			if c.mode == modeEcho {
				m[e.Key] = e.Value
				continue
			}
			m[e.Key] = c.prefix + ": " + e.Value
		}
		var v any = m
		if c.mode != modeFlat {
			v = map[string]any{"translations": m}
		}
		bts, _ := json.Marshal(v)
		return contract.Raw{Text: string(bts)}, nil
	}

	switch v := p.(type) {
	case contract.TextPrompt:
		return contract.Raw{Text: fmt.Sprintf("%s(text): %s", c.prefix, string(v))}, nil
	case contract.ChatPrompt:
		if len(v) == 0 {
			return contract.Raw{Text: fmt.Sprintf("%s(chat): <empty>", c.prefix)}, nil
		}
		return contract.Raw{Text: fmt.Sprintf("%s(chat:%s): %s", c.prefix, v[0].Role, v[0].Content)}, nil
	default:
		return contract.Raw{Text: fmt.Sprintf("%s(unknown prompt type)", c.prefix)}, nil
	}
}

var _ contract.LLMClient = (*Client)(nil)
