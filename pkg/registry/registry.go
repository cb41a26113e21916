// Package registry 以显式工厂表（零反射）把组件名映射到插件构造函数。
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"catfix/pkg/contract"
	dkj "catfix/plugins/decoder/keyjson"
	fhttp "catfix/plugins/filler/httpapi"
	flaky "catfix/plugins/llmclient/flaky"
	gmi "catfix/plugins/llmclient/gemini"
	mock "catfix/plugins/llmclient/mock"
	oai "catfix/plugins/llmclient/openai"
	pcat "catfix/plugins/prompt/catalog"
	rfs "catfix/plugins/reader/filesystem"
	rpjson "catfix/plugins/reporter/jsonreport"
	rpmd "catfix/plugins/reporter/markdown"
	wfs "catfix/plugins/writer/filesystem"
	ws3 "catfix/plugins/writer/s3"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
	}
	return nil
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewWriter 工厂签名。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewReporter 工厂签名。
type NewReporter func(raw json.RawMessage) (contract.Reporter, error)

// NewPromptBuilder 工厂签名。
type NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)

// NewLLMClient 工厂签名。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// NewDecoder 工厂签名。
type NewDecoder func(raw json.RawMessage) (contract.Decoder, error)

// NewFiller 工厂签名（直接对接外部服务的 Filler；llm 组合型由 config 装配）。
type NewFiller func(raw json.RawMessage) (contract.Filler, error)

// Reader 工厂注册表。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 原地或输出目录写回（原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		v, err := wfs.New(&opts)
		if err != nil {
			return nil, err
		}
		return v, nil
	},
	// s3: S3 兼容对象存储
	"s3": func(raw json.RawMessage) (contract.Writer, error) {
		var opts ws3.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		v, err := ws3.New(opts)
		if err != nil {
			return nil, err
		}
		return v, nil
	},
}

// Reporter 工厂注册表。
var Reporter = map[string]NewReporter{
	"markdown": func(raw json.RawMessage) (contract.Reporter, error) {
		var opts rpmd.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rpmd.New(&opts), nil
	},
	"json": func(raw json.RawMessage) (contract.Reporter, error) {
		var opts struct {
			Indent bool `json:"indent"`
		}
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rpjson.New(opts.Indent), nil
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// catalog: 目录补全 ChatPrompt（system+user+json_schema）
	"catalog": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts pcat.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		v, err := pcat.New(&opts)
		if err != nil {
			return nil, err
		}
		return v, nil
	},
}

// LLMClient 工厂注册表。
var LLMClient = map[string]NewLLMClient{
	"openai": func(raw json.RawMessage) (contract.LLMClient, error) {
		var opts oai.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return oai.New(raw)
	},
	"gemini": func(raw json.RawMessage) (contract.LLMClient, error) {
		var opts gmi.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return gmi.New(raw)
	},
	// mock: 离线回显；flaky: 故障注入（429 → 非法 JSON → 成功）
	"mock": func(raw json.RawMessage) (contract.LLMClient, error) {
		var opts mock.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return mock.New(raw)
	},
	"flaky": func(raw json.RawMessage) (contract.LLMClient, error) {
		var opts flaky.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return flaky.New(raw)
	},
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// keyjson: {"translations":{key:text}} 或扁平对象
	"keyjson": func(raw json.RawMessage) (contract.Decoder, error) {
		var opts dkj.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dkj.New(raw)
	},
}

// Filler 工厂注册表。
var Filler = map[string]NewFiller{
	// httpapi: REST POST FillRequest JSON
	"httpapi": func(raw json.RawMessage) (contract.Filler, error) {
		var opts fhttp.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		v, err := fhttp.New(raw)
		if err != nil {
			return nil, err
		}
		return v, nil
	},
}
