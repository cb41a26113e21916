// Package flaky 提供按调用次数注入故障的 LLM 客户端，用于验证重试路径。
package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"catfix/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的 LLM 实现：
// 第一次 Invoke 返回 ErrRateLimited；
// 第二次返回无法解析的 JSON；
// 之后返回 {"translations":{...}} 占位结果。
type Client struct {
	prefix  string
	logPath string
	count   atomic.Int32
}

// New 构造 Client。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("flaky options: %v: %w", err, contract.ErrInvalidInput)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	return &Client{prefix: o.Prefix, logPath: o.LogPath}, nil
}

// Calls 返回累计调用次数。
func (c *Client) Calls() int { return int(c.count.Load()) }

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	_ = appendFile(c.logPath, s+"\n")
}

func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Invoke 实现 contract.LLMClient。
func (c *Client) Invoke(ctx context.Context, req contract.FillRequest, _ contract.Prompt) (contract.Raw, error) {
	switch c.count.Add(1) {
	case 1:
		c.log("rate_limited")
		return contract.Raw{}, contract.ErrRateLimited
	case 2:
		c.log("invalid_json")
		return contract.Raw{Text: "invalid"}, nil
	default:
		c.log("ok")
		m := make(map[string]string, len(req.Entries))
		for _, e := range req.Entries {
			m[e.Key] = c.prefix + ": " + e.Value
		}
		bts, _ := json.Marshal(map[string]any{"translations": m})
		return contract.Raw{Text: string(bts)}, nil
	}
}

var _ contract.LLMClient = (*Client)(nil)
