package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// FlatEntry: 叶子条目（仅字符串叶子）。
// 约束：
// - Path 为点号连接的段，数组下标为十进制段；同一次展开内唯一；
// - Depth 为段数；
// - Index 为深度优先、父先于子的遍历序（0..n-1，严格递增）。
type FlatEntry struct {
	Path  string
	Value string
	Depth int
	Index int
}

// Entry: 待填充条目（键为路径，值为源文本）。
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Batch: 缺失条目的连续切片。
// 约束：Entries 非空；同一文件的所有 Batch 恰好覆盖其缺失集合，无重复。
type Batch struct {
	FileID FileID
	// Index: 同一文件内的批序（0..n-1），仅用于日志/诊断；结果合并按路径进行。
	Index   int
	Entries []Entry
}

// Keys 返回批内全部路径（按批内顺序）。
func (b Batch) Keys() []string {
	out := make([]string, len(b.Entries))
	for i, e := range b.Entries {
		out[i] = e.Key
	}
	return out
}
