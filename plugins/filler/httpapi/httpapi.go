// Package httpapi 以 REST POST 调用外部填充服务：请求体即 FillRequest JSON，响应为 FillResponse JSON。
package httpapi

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

// Options: 端点与鉴权。
type Options struct {
	Endpoint       string            `json:"endpoint"`
	APIKey         string            `json:"api_key"`
	APIKeyEnv      string            `json:"api_key_env"`
	AuthHeader     string            `json:"auth_header"` // 默认 Authorization（值为 "Bearer <key>"）；其余头直接写 key
	TimeoutSeconds int               `json:"timeout_seconds"`
	ExtraHeaders   map[string]string `json:"extra_headers"`
}

type Filler struct {
	url        string
	key        string
	authHeader string
	extraH     map[string]string
	do         func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造；endpoint 必填。
func New(raw json.RawMessage) (*Filler, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("httpapi options: %v: %w", err, contract.ErrInvalidInput)
		}
	}
	o.Endpoint = strings.TrimSpace(o.Endpoint)
	if !strings.HasPrefix(o.Endpoint, "http://") && !strings.HasPrefix(o.Endpoint, "https://") {
		return nil, fmt.Errorf("httpapi: %w: endpoint must be an http(s) URL", contract.ErrInvalidInput)
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
	if o.AuthHeader == "" {
		o.AuthHeader = "Authorization"
	}
	key := o.APIKey
	if key == "" && o.APIKeyEnv != "" {
		key = os.Getenv(o.APIKeyEnv)
	}
	hc := &http.Client{Timeout: time.Duration(o.TimeoutSeconds) * time.Second}
	return &Filler{url: o.Endpoint, key: key, authHeader: o.AuthHeader, extraH: o.ExtraHeaders, do: hc.Do}, nil
}

// upstreamError: 非 2xx 的上游响应；5xx/408 同时满足 net.Error。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("fill service %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }
func (e upstreamError) Unwrap() error           { return contract.ErrFillService }

// Fill 实现 contract.Filler。
func (f *Filler) Fill(ctx context.Context, req contract.FillRequest) (contract.FillResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return contract.FillResponse{}, fmt.Errorf("encode: %v: %w", err, contract.ErrInvalidInput)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return contract.FillResponse{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/json")
	if f.key != "" {
		if strings.EqualFold(f.authHeader, "Authorization") {
			hr.Header.Set(f.authHeader, "Bearer "+f.key)
		} else {
			hr.Header.Set(f.authHeader, f.key)
		}
	}
	for k, v := range f.extraH {
		if k != "" {
			hr.Header.Set(k, v)
		}
	}

	resp, err := f.do(hr)
	if err != nil {
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return contract.FillResponse{}, ctx.Err()
		}
		return contract.FillResponse{}, fmt.Errorf("%w: %v", contract.ErrFillService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return contract.FillResponse{}, contract.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return contract.FillResponse{}, upstreamError{status: resp.StatusCode, msg: strings.TrimSpace(string(slurp))}
	}
	var out contract.FillResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return contract.FillResponse{}, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	if out.Translations == nil {
		return contract.FillResponse{}, fmt.Errorf("missing translations: %w", contract.ErrResponseInvalid)
	}
	return out, nil
}

var (
	_ contract.Filler        = (*Filler)(nil)
	_ contract.UpstreamError = upstreamError{}
)
