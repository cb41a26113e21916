// Package openai 以原生 HTTP 调用 OpenAI 兼容的 chat/completions 接口。
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"catfix/pkg/contract"
)

// Options: 最小必需配置。
type Options struct {
	BaseURL        string   `json:"base_url"`        // 例如 https://api.openai.com/v1
	Model          string   `json:"model"`           // 为空则使用默认
	APIKeyEnv      string   `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string   `json:"api_key"`         // 明文传入（仅用于测试）
	TimeoutSeconds int      `json:"timeout_seconds"` // client 级超时（秒），默认 60
	Temperature    *float64 `json:"temperature,omitempty"`
	// ResponseFormat: json_object（默认）| json_schema | none。
	// 目录键是动态的，strict 模式无法表达，json_schema 时以非 strict 发送。
	ResponseFormat string `json:"response_format"`
	// 第三方兼容
	EndpointPath       string            `json:"endpoint_path"`        // 覆盖默认 /chat/completions；可为完整 URL
	DisableDefaultAuth bool              `json:"disable_default_auth"` // 关闭 Authorization: Bearer 注入
	ExtraHeaders       map[string]string `json:"extra_headers"`
}

const (
	formatJSONObject = "json_object"
	formatJSONSchema = "json_schema"
	formatNone       = "none"
)

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.Model == "" {
		o.Model = "gpt-4.1-mini"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/chat/completions"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
	if o.ResponseFormat == "" {
		o.ResponseFormat = formatJSONObject
	}
}

type Client struct {
	url         string
	apiKey      string
	temp        *float64
	model       string
	format      string
	extraH      map[string]string
	disableAuth bool
	do          func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %v: %w", err, contract.ErrInvalidInput)
		}
	}
	opts.defaults()
	switch opts.ResponseFormat {
	case formatJSONObject, formatJSONSchema, formatNone:
	default:
		return nil, fmt.Errorf("openai: %w: unknown response_format %q", contract.ErrInvalidInput, opts.ResponseFormat)
	}
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" && !opts.DisableDefaultAuth {
		return nil, fmt.Errorf("openai: %w: missing api key", contract.ErrInvalidInput)
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	fullURL := opts.EndpointPath
	if !(strings.HasPrefix(fullURL, "http://") || strings.HasPrefix(fullURL, "https://")) {
		fullURL = strings.TrimRight(opts.BaseURL, "/") + "/" + strings.TrimLeft(opts.EndpointPath, "/")
	}
	return &Client{
		url:         fullURL,
		apiKey:      key,
		temp:        opts.Temperature,
		model:       opts.Model,
		format:      opts.ResponseFormat,
		extraH:      opts.ExtraHeaders,
		disableAuth: opts.DisableDefaultAuth,
		do:          hc.Do,
	}, nil
}

type oaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaReq struct {
	Model          string            `json:"model"`
	Messages       []oaMessage       `json:"messages"`
	Temperature    *float64          `json:"temperature,omitempty"`
	ResponseFormat *oaResponseFormat `json:"response_format,omitempty"`
}

type oaResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type oaResponseFormat struct {
	Type       string        `json:"type"`
	JSONSchema *oaJSONSchema `json:"json_schema,omitempty"`
}

type oaJSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// upstreamError 实现 net.Error，把 5xx/408 映射为网络类错误，便于分类与重试日志。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// splitSchema: 取出 role=json_schema 的消息作为 schema，其余消息原样保留。
func splitSchema(p contract.Prompt) ([]oaMessage, json.RawMessage, error) {
	switch v := p.(type) {
	case contract.TextPrompt:
		return []oaMessage{{Role: "user", Content: string(v)}}, nil, nil
	case contract.ChatPrompt:
		msgs := make([]oaMessage, 0, len(v))
		var schema json.RawMessage
		for _, m := range v {
			if strings.EqualFold(strings.TrimSpace(m.Role), "json_schema") {
				if json.Valid([]byte(m.Content)) {
					schema = json.RawMessage(m.Content)
				}
				continue
			}
			msgs = append(msgs, oaMessage{Role: m.Role, Content: m.Content})
		}
		return msgs, schema, nil
	default:
		return nil, nil, fmt.Errorf("openai: %w: unsupported prompt %T", contract.ErrInvalidInput, p)
	}
}

func (c *Client) responseFormat(schema json.RawMessage) *oaResponseFormat {
	switch c.format {
	case formatNone:
		return nil
	case formatJSONSchema:
		if len(schema) > 0 {
			return &oaResponseFormat{Type: formatJSONSchema, JSONSchema: &oaJSONSchema{Name: "catalog_fill", Schema: schema}}
		}
	}
	return &oaResponseFormat{Type: formatJSONObject}
}

// Invoke: 单次调用，同步返回。
func (c *Client) Invoke(ctx context.Context, _ contract.FillRequest, p contract.Prompt) (contract.Raw, error) {
	msgs, schema, err := splitSchema(p)
	if err != nil {
		return contract.Raw{}, err
	}
	body, err := json.Marshal(&oaReq{
		Model:          c.model,
		Messages:       msgs,
		Temperature:    c.temp,
		ResponseFormat: c.responseFormat(schema),
	})
	if err != nil {
		return contract.Raw{}, fmt.Errorf("encode: %v: %w", err, contract.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	if !c.disableAuth {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.extraH {
		if k != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return contract.Raw{}, ctx.Err()
			}
		}
		return contract.Raw{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return contract.Raw{}, contract.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(slurp))
		// 408/5xx 归为上游网络问题；其余 4xx 视为输入/配置无效
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
			return contract.Raw{}, upstreamError{status: resp.StatusCode, msg: msg}
		}
		return contract.Raw{}, fmt.Errorf("openai upstream %d: %s: %w", resp.StatusCode, msg, contract.ErrInvalidInput)
	}
	var or oaResp
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return contract.Raw{}, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	if len(or.Choices) == 0 || or.Choices[0].Message.Content == "" {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	return contract.Raw{Text: or.Choices[0].Message.Content}, nil
}

var (
	_ contract.LLMClient     = (*Client)(nil)
	_ contract.UpstreamError = upstreamError{}
)
