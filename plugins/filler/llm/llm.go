// Package llm 把 PromptBuilder、LLMClient 与 Decoder 组合为一个 Filler。
package llm

import (
	"context"
	"fmt"

	"catfix/internal/prompt"
	"catfix/pkg/contract"
)

// Options: token 预算（MaxTokens<=0 表示不限）。
type Options struct {
	MaxTokens     int `json:"max_tokens"`
	BytesPerToken int `json:"bytes_per_token"`
}

// Filler: 单批请求按预算切成若干子请求，依次 构造→调用→解码 后合并。
// 子请求失败时停止，返回已完成子请求的结果与该错误；调度层只重试其余条目。
type Filler struct {
	pb     contract.PromptBuilder
	client contract.LLMClient
	dec    contract.Decoder
	budget int
	est    contract.TokenEstimator
}

// New 组合三段组件；任一为 nil 返回 ErrInvalidInput。
func New(pb contract.PromptBuilder, client contract.LLMClient, dec contract.Decoder, opts Options) (*Filler, error) {
	if pb == nil || client == nil || dec == nil {
		return nil, fmt.Errorf("llm filler: %w: prompt/client/decoder required", contract.ErrInvalidInput)
	}
	eff, overhead := prompt.EffectiveMaxTokens(pb, opts.BytesPerToken, opts.MaxTokens)
	if opts.MaxTokens > 0 && eff <= 0 {
		return nil, fmt.Errorf("llm filler: %w: max_tokens %d <= prompt overhead %d", contract.ErrBudgetExceeded, opts.MaxTokens, overhead)
	}
	return &Filler{pb: pb, client: client, dec: dec, budget: eff, est: prompt.MakeEstimator(opts.BytesPerToken)}, nil
}

// Fill 实现 contract.Filler。
func (f *Filler) Fill(ctx context.Context, req contract.FillRequest) (contract.FillResponse, error) {
	out := make(map[string]string, len(req.Entries))
	for _, part := range prompt.Chunk(req.Entries, f.budget, f.est) {
		sub := req
		sub.Entries = part
		got, err := f.fillChunk(ctx, sub)
		if err != nil {
			return contract.FillResponse{Translations: out}, err
		}
		for k, v := range got {
			out[k] = v
		}
	}
	return contract.FillResponse{Translations: out}, nil
}

func (f *Filler) fillChunk(ctx context.Context, sub contract.FillRequest) (map[string]string, error) {
	p, err := f.pb.Build(ctx, sub)
	if err != nil {
		return nil, err
	}
	raw, err := f.client.Invoke(ctx, sub, p)
	if err != nil {
		return nil, err
	}
	return f.dec.Decode(ctx, sub, raw)
}

var _ contract.Filler = (*Filler)(nil)
