// Package prompt 提供提示词 token 预算的近似估算与按预算切分条目。
package prompt

import "catfix/pkg/contract"

// entryFrameTokens: 每条目的固定包装开销（<entry key="..."> 标签与换行）。
const entryFrameTokens = 4

// MakeEstimator 返回一个近似 token 估算器：tokens ≈ ceil(len(utf8_bytes)/bytesPerToken)。
// 当 bytesPerToken<=0 时采用默认 4。
func MakeEstimator(bytesPerToken int) contract.TokenEstimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}

// EffectiveMaxTokens 计算预扣“固定提示开销”后的有效预算。
// 返回 (effectiveMax, overheadTokens)。maxTokens<=0 表示不限，返回 (0,0)。
// pb 未实现 OverheadEstimator 时开销按 0 计。
func EffectiveMaxTokens(pb contract.PromptBuilder, bytesPerToken int, maxTokens int) (int, int) {
	if maxTokens <= 0 {
		return 0, 0
	}
	overhead := 0
	if oe, ok := pb.(contract.OverheadEstimator); ok {
		overhead = oe.EstimateOverheadTokens(MakeEstimator(bytesPerToken))
	}
	return maxTokens - overhead, overhead
}

// EntryTokens 估算单条目在提示中的占用。
func EntryTokens(e contract.Entry, est contract.TokenEstimator) int {
	return est(e.Key) + est(e.Value) + entryFrameTokens
}

// Chunk 按有效预算把条目切成若干连续分组，保持原顺序。
// budget<=0 表示不限，整体作为一组；单条即超预算时独占一组。
func Chunk(entries []contract.Entry, budget int, est contract.TokenEstimator) [][]contract.Entry {
	if len(entries) == 0 {
		return nil
	}
	if budget <= 0 || est == nil {
		return [][]contract.Entry{entries}
	}
	var out [][]contract.Entry
	start, used := 0, 0
	for i, e := range entries {
		n := EntryTokens(e, est)
		if i > start && used+n > budget {
			out = append(out, entries[start:i:i])
			start, used = i, 0
		}
		used += n
	}
	return append(out, entries[start:len(entries):len(entries)])
}
