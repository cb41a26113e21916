package config

import (
	"encoding/json"

	"catfix/pkg/contract"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// 键使用 snake_case；未知字段在解析期失败。
type Config struct {
	Source  string   `json:"source"`
	Targets []string `json:"targets"`

	SourceLanguage string `json:"source_language"`
	// TargetLanguage 为空时按目标文件名推断。
	TargetLanguage string      `json:"target_language"`
	FillOptions    FillOptions `json:"fill_options"`

	KeepExtraKeys bool `json:"keep_extra_keys"`
	CopySource    bool `json:"copy_source"`

	Dispatch        Dispatch `json:"dispatch"`
	FileConcurrency int      `json:"file_concurrency"`
	// CacheSize: 0 取默认容量，<0 关闭缓存。
	CacheSize int `json:"cache_size"`

	// 仅 llm 填充器使用：单次提示 token 预算与估算粒度。
	MaxTokens     int `json:"max_tokens"`
	BytesPerToken int `json:"bytes_per_token"`

	Indent     string  `json:"indent"`
	ReportName string  `json:"report_name"`
	Logging    Logging `json:"logging"`

	// Filler: llm | httpapi | none。
	Filler string `json:"filler"`
	// Limits: 非 llm 填充器的限额；llm 使用 provider 自带限额。
	Limits Limits `json:"limits"`

	Components Components `json:"components"`

	// LLM Provider 选择与定义。
	LLM      string              `json:"llm"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// FillOptions: 透传给填充服务的选项（配置侧 snake_case）。
type FillOptions struct {
	PreservePlaceholders bool `json:"preserve_placeholders"`
	SkipHTML             bool `json:"skip_html"`
	SkipShortValues      bool `json:"skip_short_values"`
	MinLength            int  `json:"min_length"`
	IncludeKeys          bool `json:"include_keys"`
}

func (o FillOptions) contract() contract.FillOptions {
	return contract.FillOptions{
		PreservePlaceholders: o.PreservePlaceholders,
		SkipHTML:             o.SkipHTML,
		SkipShortValues:      o.SkipShortValues,
		MinLength:            o.MinLength,
		IncludeKeys:          o.IncludeKeys,
	}
}

// Dispatch: 批分发参数；0 取默认。
type Dispatch struct {
	BatchSize   int `json:"batch_size"`
	Concurrency int `json:"concurrency"`
	// MaxRetries 为 nil 取默认；显式 0 表示不重试。
	MaxRetries         *int `json:"max_retries,omitempty"`
	BackoffMS          int  `json:"backoff_ms"`
	CallTimeoutSeconds int  `json:"call_timeout_seconds"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader string `json:"reader"`
	Writer string `json:"writer"`
	// Reporter: "none" 关闭报告。
	Reporter      string `json:"reporter"`
	PromptBuilder string `json:"prompt_builder"`
	Decoder       string `json:"decoder"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader        json.RawMessage `json:"reader"`
	Writer        json.RawMessage `json:"writer"`
	Reporter      json.RawMessage `json:"reporter"`
	PromptBuilder json.RawMessage `json:"prompt_builder"`
	Decoder       json.RawMessage `json:"decoder"`
	Filler        json.RawMessage `json:"filler"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM              int `json:"rpm"`
	EPM              int `json:"epm"`
	MaxEntriesPerReq int `json:"max_entries_per_req"`
}
