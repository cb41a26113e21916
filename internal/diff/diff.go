// Package diff 比对源/目标的展开列表并分类每条路径。
package diff

import (
	"math"

	"catfix/pkg/contract"
)

// Diff 比对 src 与 tgt，返回聚合统计与逐路径明细。
// 明细顺序：先按源文档顺序给出 matched/order-diff/missing，再按目标顺序给出 extra。
// 相对位置：路径在“两侧共有路径”中的名次；missing/extra 不会令其后路径被判为 order-diff。
// 复杂度 O(n+m)。
func Diff(src, tgt []contract.FlatEntry) (contract.DiffStats, []contract.DiffDetail) {
	srcIdx := make(map[string]struct{}, len(src))
	for _, e := range src {
		srcIdx[e.Path] = struct{}{}
	}
	tgtIdx := make(map[string]contract.FlatEntry, len(tgt))
	for _, e := range tgt {
		tgtIdx[e.Path] = e
	}

	srcRank := sharedRank(src, func(p string) bool { _, ok := tgtIdx[p]; return ok })
	tgtRank := sharedRank(tgt, func(p string) bool { _, ok := srcIdx[p]; return ok })

	stats := contract.DiffStats{
		MissingKeys:  []string{},
		ExtraKeys:    []string{},
		SourceLeaves: len(src),
		TargetLeaves: len(tgt),
	}
	details := make([]contract.DiffDetail, 0, len(src)+len(tgt))
	for _, e := range src {
		te, ok := tgtIdx[e.Path]
		if !ok {
			stats.MissingKeys = append(stats.MissingKeys, e.Path)
			details = append(details, contract.DiffDetail{Kind: contract.KindMissing, Path: e.Path, Value: e.Value, SourcePos: e.Index, TargetPos: -1})
			continue
		}
		sp, tp := srcRank[e.Path], tgtRank[e.Path]
		kind := contract.KindMatched
		if sp != tp {
			kind = contract.KindOrderDiff
			stats.OrderDiffCount++
		}
		details = append(details, contract.DiffDetail{Kind: kind, Path: e.Path, Value: te.Value, SourcePos: sp, TargetPos: tp})
	}
	for _, e := range tgt {
		if _, ok := srcIdx[e.Path]; ok {
			continue
		}
		stats.ExtraKeys = append(stats.ExtraKeys, e.Path)
		details = append(details, contract.DiffDetail{Kind: contract.KindExtra, Path: e.Path, Value: e.Value, SourcePos: -1, TargetPos: e.Index})
	}
	stats.MatchRate = MatchRate(len(src), len(stats.MissingKeys))
	return stats, details
}

// MatchRate = round(100*(total-missing)/total)；total==0 时为 100。结果夹在 [0,100]。
func MatchRate(total, missing int) int {
	if total <= 0 {
		return 100
	}
	if missing < 0 {
		missing = 0
	}
	if missing > total {
		missing = total
	}
	r := int(math.Round(100 * float64(total-missing) / float64(total)))
	// 仅当无缺失时为 100：避免 199/200 之类四舍五入到 100
	if missing > 0 && r >= 100 {
		r = 99
	}
	return r
}

// sharedRank 返回共有路径在本列表内的名次（0..k-1）。
func sharedRank(list []contract.FlatEntry, shared func(string) bool) map[string]int {
	out := make(map[string]int, len(list))
	n := 0
	for _, e := range list {
		if shared(e.Path) {
			out[e.Path] = n
			n++
		}
	}
	return out
}
