// Package filesystem 实现基于本地文件系统与 STDIN 的 Reader。
package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"catfix/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 扫描目录时跳过这些目录名（基名、大小写不敏感）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// Extensions: 目录扫描时收录的扩展名，默认 [".json"]。显式给出的文件 root 不受限制。
	Extensions []string `json:"extensions"`
	// MaxDepth: 目录递归深度，0 表示不限；1 表示只看 root 本层。
	MaxDepth int `json:"max_depth"`
}

// FileSystem: 按稳定顺序逐文件产出字节流，不解析内容，不起并发。
// yield 拿到 ReadCloser 的所有权，负责关闭。
type FileSystem struct {
	bufSize    int
	excludeDir map[string]struct{}
	exts       map[string]struct{}
	maxDepth   int
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	o := Options{}
	if opts != nil {
		o = *opts
	}
	r := &FileSystem{
		bufSize:    defaultBuf,
		excludeDir: make(map[string]struct{}),
		exts:       make(map[string]struct{}),
		maxDepth:   o.MaxDepth,
	}
	if o.BufSize > 0 {
		r.bufSize = o.BufSize
	}
	for _, name := range o.ExcludeDirNames {
		if name != "" {
			r.excludeDir[strings.ToLower(name)] = struct{}{}
		}
	}
	if len(o.Extensions) == 0 {
		o.Extensions = []string{".json"}
	}
	for _, ext := range o.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.exts[ext] = struct{}{}
	}
	return r
}

// Iterate 遍历 roots，对每个命中文件调用 yield。
// roots 为空或仅含 "-" 时读取 STDIN（FileID 为 "stdin"）。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(contract.FileID("stdin"), newBufferedCloser(io.NopCloser(os.Stdin), r.bufSize))
	}
	for _, s := range roots {
		if s == "-" {
			return fmt.Errorf("%w: stdin '-' cannot be mixed with other roots", contract.ErrInvalidInput)
		}
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	// 符号链接 root：只跟随到常规文件，目录链接忽略
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !t.Mode().IsRegular() {
			return nil
		}
		return r.open(root, yield)
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, 1, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return r.open(root, yield)
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, depth int, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 先目录后文件
	if r.maxDepth == 0 || depth < r.maxDepth {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
				continue
			}
			if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), depth+1, yield); err != nil {
				return err
			}
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || !r.match(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			continue
		}
		if err := r.open(p, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) match(name string) bool {
	_, ok := r.exts[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (r *FileSystem) open(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	return yield(contract.NormalizeFileID(p), newBufferedCloser(f, r.bufSize))
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }

var _ contract.Reader = (*FileSystem)(nil)
