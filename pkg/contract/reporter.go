package contract

import (
	"context"
	"io"
)

// FileReport: 报告所需的单文件只读摘要。
type FileReport struct {
	FileID      FileID
	Status      JobStatus
	Stats       DiffStats
	Translated  int
	FailedPaths []string
	// Err: 文件级错误文本（解析失败、写出失败等），为空表示无。
	Err string
}

// Reporter: 将所有文件的摘要渲染为人类可读报告（格式由实现决定）。
// 纯计算，不做 I/O；输出交由 Writer 落盘。
type Reporter interface {
	Name() string
	Render(ctx context.Context, files []FileReport) (io.Reader, error)
}
