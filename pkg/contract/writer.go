package contract

import (
	"context"
	"io"
)

// ArtifactID: 与 FileID 等价的结果工件标识（语义别名）。
type ArtifactID = FileID

// Writer: 将修复结果以流式方式持久化到目标介质（文件系统/对象存储等）。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 按字节透传，不读取/修改内容；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
//  5. 并发安全：不同 ArtifactID 可并发写入。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}
