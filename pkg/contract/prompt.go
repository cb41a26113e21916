package contract

import "context"

// Prompt: 不透明载荷，由具体 PromptBuilder/LLMClient 配对解释。
type Prompt any

// Message: 最小会话消息形状（可用于 ChatPrompt）。
type Message struct {
	Role    string
	Content string
}

// TextPrompt: 文本型提示词载荷。
type TextPrompt string

// ChatPrompt: 会话型提示词载荷（最小集合）。
type ChatPrompt []Message

// PromptBuilder: 基于 FillRequest 构造确定性的 Prompt。
// 约束：
//   - 纯计算，不做 I/O；
//   - 不隐式修改条目内容；
//   - 失败快速返回错误。
type PromptBuilder interface {
	Build(ctx context.Context, req FillRequest) (Prompt, error)
}

// TokenEstimator: 近似 token 估算函数。
type TokenEstimator func(s string) int

// OverheadEstimator: 可选能力，估算与条目无关的固定提示开销。
type OverheadEstimator interface {
	EstimateOverheadTokens(est TokenEstimator) int
}
