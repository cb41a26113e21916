package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 使用 mock LLM 与合理限额（本地/离线调试友好）；
// - 源为 locales/en.json，目标为 locales 目录，原地写回；
// - 组件名采用仓库内置实现，选项给出安全中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	retries := 3
	cfg := Config{
		Source:          "locales/en.json",
		Targets:         []string{"locales"},
		SourceLanguage:  "en",
		FillOptions:     FillOptions{PreservePlaceholders: true, SkipHTML: true},
		FileConcurrency: d.FileConcurrency,
		Dispatch: Dispatch{
			BatchSize:          50,
			Concurrency:        10,
			MaxRetries:         &retries,
			BackoffMS:          1000,
			CallTimeoutSeconds: 60,
		},
		MaxTokens:  4096,
		Logging:    Logging{Level: "info"},
		Filler:     d.Filler,
		Components: d.Components,
		LLM:        "mock",
		Provider: map[string]Provider{
			"mock": {
				Client:  "mock",
				Options: json.RawMessage(`{"prefix":"","api_key":"","response_mode":""}`),
				Limits:  Limits{RPM: 60, EPM: 6000, MaxEntriesPerReq: 100},
			},
			"openai": {
				Client: "openai",
				Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "temperature": null,
  "response_format": "json_object",
  "endpoint_path": "",
  "disable_default_auth": false,
  "extra_headers": {}
}`),
			},
			"gemini": {
				Client: "gemini",
				Options: json.RawMessage(`{
  "model": "",
  "api_key_env": "GOOGLE_API_KEY",
  "api_key": "",
  "base_url": "",
  "api_version": "",
  "timeout_seconds": 60,
  "response_mime_type": ""
}`),
			},
		},
	}
	// Options：包含所有键（值可为空/默认），确保键存在。
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "vendor"],
  "extensions": [".json"],
  "max_depth": 0
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "",
  "atomic": true,
  "flat": false,
  "suffix": "",
  "buf_size": 65536
}`)
	cfg.Options.Reporter = json.RawMessage(`{
  "title": "",
  "max_keys": 50
}`)
	cfg.Options.PromptBuilder = json.RawMessage(`{
  "inline_system_template": "",
  "system_template_path": "",
  "inline_glossary": "",
  "glossary_path": ""
}`)
	cfg.Options.Decoder = json.RawMessage(`{
  "strip_fences": true,
  "detect_echo": true
}`)
	return cfg
}

// RenderJSON 以两空格缩进输出配置。
func RenderJSON(cfg Config) ([]byte, error) {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// RenderYAML 经 JSON 中转输出 YAML：原样 JSON 子树展开为普通映射，键顺序保持。
func RenderYAML(cfg Config) ([]byte, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("config: yaml render: %w", err)
	}
	blockStyle(&doc)
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("config: yaml render: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// blockStyle 清除 JSON 输入带来的 flow/引号风格，交由编码器按需选择。
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
