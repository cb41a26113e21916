// Package gemini 通过 google.golang.org/genai 调用 Gemini generateContent。
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"catfix/pkg/contract"
)

// Options: Gemini API 最小必需配置。
type Options struct {
	Model     string `json:"model"`       // 默认 gemini-2.5-flash
	APIKeyEnv string `json:"api_key_env"` // 默认 GOOGLE_API_KEY
	APIKey    string `json:"api_key"`
	// BaseURL/APIVersion: 覆盖 SDK 默认端点（代理或测试桩）。
	BaseURL        string   `json:"base_url,omitempty"`
	APIVersion     string   `json:"api_version,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	Temperature    *float32 `json:"temperature,omitempty"`
	// ResponseMIMEType: 仅当 Prompt 携带 schema 时生效；为空则 application/json。
	ResponseMIMEType string `json:"response_mime_type,omitempty"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
	if o.ResponseMIMEType == "" {
		o.ResponseMIMEType = "application/json"
	}
}

type Client struct {
	models   *genai.Models
	model    string
	temp     *float32
	respMIME string
}

// New 从原样 JSON 选项构造 genai 客户端。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %v: %w", err, contract.ErrInvalidInput)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrInvalidInput)
	}
	cli, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second},
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    opts.BaseURL,
			APIVersion: opts.APIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Client{models: cli.Models, model: opts.Model, temp: opts.Temperature, respMIME: opts.ResponseMIMEType}, nil
}

// upstreamError 实现 net.Error，把 5xx/408 映射为网络类错误。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// encodePrompt: system 并入 SystemInstruction；json_schema 只开启 JSON 输出；其余按角色转为 Content。
func (c *Client) encodePrompt(p contract.Prompt) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	cfg := &genai.GenerateContentConfig{Temperature: c.temp}
	switch v := p.(type) {
	case contract.TextPrompt:
		return []*genai.Content{genai.NewContentFromText(string(v), genai.RoleUser)}, cfg, nil
	case contract.ChatPrompt:
		var sys []string
		contents := make([]*genai.Content, 0, len(v))
		for _, m := range v {
			switch strings.ToLower(strings.TrimSpace(m.Role)) {
			case "system":
				sys = append(sys, m.Content)
			case "json_schema":
				cfg.ResponseMIMEType = c.respMIME
			case "assistant", "model":
				contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
			default:
				contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
			}
		}
		if len(sys) > 0 {
			cfg.SystemInstruction = genai.NewContentFromText(strings.Join(sys, "\n\n"), genai.RoleUser)
		}
		if len(contents) == 0 {
			return nil, nil, fmt.Errorf("gemini: %w: prompt has no user content", contract.ErrInvalidInput)
		}
		return contents, cfg, nil
	default:
		return nil, nil, fmt.Errorf("gemini: %w: unsupported prompt %T", contract.ErrInvalidInput, p)
	}
}

// Invoke: 单次调用，同步返回首个候选的文本。
func (c *Client) Invoke(ctx context.Context, _ contract.FillRequest, p contract.Prompt) (contract.Raw, error) {
	contents, cfg, err := c.encodePrompt(p)
	if err != nil {
		return contract.Raw{}, err
	}
	resp, err := c.models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return contract.Raw{}, ctx.Err()
		}
		return contract.Raw{}, mapError(err)
	}
	text := firstText(resp)
	if text == "" {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	return contract.Raw{Text: text}, nil
}

// mapError: 429 → 限流；408/5xx → 上游网络错误；其余 4xx → 输入无效。
func mapError(err error) error {
	var ae genai.APIError
	if !errors.As(err, &ae) {
		var pae *genai.APIError
		if !errors.As(err, &pae) || pae == nil {
			return err
		}
		ae = *pae
	}
	switch {
	case ae.Code == http.StatusTooManyRequests:
		return contract.ErrRateLimited
	case ae.Code == http.StatusRequestTimeout || ae.Code/100 == 5:
		return upstreamError{status: ae.Code, msg: ae.Message}
	case ae.Code/100 == 4:
		return fmt.Errorf("gemini upstream %d: %s: %w", ae.Code, ae.Message, contract.ErrInvalidInput)
	}
	return err
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

var (
	_ contract.LLMClient     = (*Client)(nil)
	_ contract.UpstreamError = upstreamError{}
)
