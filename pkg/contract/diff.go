package contract

// DiffKind: 路径分类。
type DiffKind string

const (
	KindMatched   DiffKind = "matched"
	KindOrderDiff DiffKind = "order-diff"
	KindMissing   DiffKind = "missing"
	KindExtra     DiffKind = "extra"
)

// DiffDetail: 单条路径的比对结果。
// SourcePos/TargetPos 为相对位置（不存在的一侧为 -1）；Value 取存在一侧的值（两侧均有时取目标值）。
type DiffDetail struct {
	Kind      DiffKind `json:"kind"`
	Path      string   `json:"key_path"`
	Value     string   `json:"value"`
	SourcePos int      `json:"source_pos"`
	TargetPos int      `json:"target_pos"`
}

// DiffStats: 聚合统计。
// MatchRate = round(100*(SourceLeaves-len(MissingKeys))/SourceLeaves)，源无叶子时为 100。
type DiffStats struct {
	OrderDiffCount int      `json:"order_diff_count"`
	MissingKeys    []string `json:"missing_keys"`
	ExtraKeys      []string `json:"extra_keys"`
	MatchRate      int      `json:"match_rate"`
	SourceLeaves   int      `json:"source_leaves"`
	TargetLeaves   int      `json:"target_leaves"`
}
