package contract

import "context"

// FillOptions: 透传给填充服务的选项（核心不解释其语义）。
type FillOptions struct {
	PreservePlaceholders bool `json:"preservePlaceholders"`
	SkipHTML             bool `json:"skipHtml"`
	SkipShortValues      bool `json:"skipShortValues"`
	MinLength            int  `json:"minLength"`
	IncludeKeys          bool `json:"includeKeys"`
}

// FillRequest: 填充服务请求载荷（JSON 形状即对外协议）。
type FillRequest struct {
	SourceLanguage string      `json:"sourceLanguage"`
	TargetLanguage string      `json:"targetLanguage"`
	Entries        []Entry     `json:"entries"`
	Options        FillOptions `json:"options"`
}

// FillResponse: 成功响应，translations 以路径为键。
type FillResponse struct {
	Translations map[string]string `json:"translations"`
}

// Filler: 外部填充服务（例如机器翻译）。
// 单次调用、同步返回；应尊重 ctx 取消/超时。
// 任何错误都视为该批失败，由调度层决定是否重试；核心不检查失败原因。
// 出错时可同时返回已完成部分的 Translations，调度层保留这些键，仅对其余键重试。
type Filler interface {
	Fill(ctx context.Context, req FillRequest) (FillResponse, error)
}

// FillerFunc 适配普通函数为 Filler。
type FillerFunc func(ctx context.Context, req FillRequest) (FillResponse, error)

func (f FillerFunc) Fill(ctx context.Context, req FillRequest) (FillResponse, error) {
	return f(ctx, req)
}

// Raw: LLM 客户端返回的原始文本载荷。
// 约束：原样返回，不做清洗/截断/归一化。
type Raw struct {
	Text string
}

// LLMClient: 以 FillRequest+Prompt 为单位与大模型交互，返回原始文本 Raw。
type LLMClient interface {
	Invoke(ctx context.Context, req FillRequest, p Prompt) (Raw, error)
}

// Decoder: 将 Raw 解码为 path→value 映射；只返回请求中出现过的键。
type Decoder interface {
	Decode(ctx context.Context, req FillRequest, raw Raw) (map[string]string, error)
}
