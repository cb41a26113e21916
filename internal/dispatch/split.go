package dispatch

import "catfix/pkg/contract"

// Split 将条目切为连续的批：每批 size 条，最后一批可更短；从不产生空批。
// size<=0 取 DefaultBatchSize。批内条目共享输入切片的底层数组，调用方不得修改。
func Split(fileID contract.FileID, entries []contract.Entry, size int) []contract.Batch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if len(entries) == 0 {
		return nil
	}
	out := make([]contract.Batch, 0, (len(entries)+size-1)/size)
	for from := 0; from < len(entries); from += size {
		to := min(from+size, len(entries))
		out = append(out, contract.Batch{FileID: fileID, Index: len(out), Entries: entries[from:to:to]})
	}
	return out
}
