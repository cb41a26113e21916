// Package markdown 把逐文件摘要渲染为 Markdown 报告。
package markdown

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"catfix/pkg/contract"
)

// Options: 报告选项。
type Options struct {
	// Title: 一级标题，默认 "Catalog repair report"。
	Title string `json:"title"`
	// MaxKeys: 每个文件每类最多列出的键数，默认 50；<0 表示不列出。
	MaxKeys int `json:"max_keys"`
}

type Reporter struct {
	title   string
	maxKeys int
}

func New(opts *Options) *Reporter {
	r := &Reporter{title: "Catalog repair report", maxKeys: 50}
	if opts != nil {
		if opts.Title != "" {
			r.title = opts.Title
		}
		if opts.MaxKeys != 0 {
			r.maxKeys = opts.MaxKeys
		}
	}
	return r
}

func (r *Reporter) Name() string { return "markdown" }

// Render: 汇总 + 总表 + 逐文件明细；顺序与入参一致。
func (r *Reporter) Render(ctx context.Context, files []contract.FileReport) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", r.title)

	var completed, failed, translated, failedKeys int
	for _, f := range files {
		switch f.Status {
		case contract.StatusCompleted:
			completed++
		case contract.StatusFailed:
			failed++
		}
		translated += f.Translated
		failedKeys += len(f.FailedPaths)
	}
	fmt.Fprintf(&b, "- Files: %d (completed %d, failed %d)\n", len(files), completed, failed)
	fmt.Fprintf(&b, "- Filled keys: %d\n", translated)
	fmt.Fprintf(&b, "- Failed keys: %d\n\n", failedKeys)
	if len(files) == 0 {
		b.WriteString("_No target files._\n")
		return &b, nil
	}

	b.WriteString("| File | Status | Match | Missing | Extra | Order diffs | Filled | Failed |\n")
	b.WriteString("|---|---|---:|---:|---:|---:|---:|---:|\n")
	for _, f := range files {
		fmt.Fprintf(&b, "| %s | %s | %d%% | %d | %d | %d | %d | %d |\n",
			cell(string(f.FileID)), f.Status, f.Stats.MatchRate,
			len(f.Stats.MissingKeys), len(f.Stats.ExtraKeys), f.Stats.OrderDiffCount,
			f.Translated, len(f.FailedPaths))
	}

	for _, f := range files {
		if f.Err == "" && len(f.Stats.MissingKeys) == 0 && len(f.Stats.ExtraKeys) == 0 && len(f.FailedPaths) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", f.FileID)
		if f.Err != "" {
			fmt.Fprintf(&b, "**Error:** %s\n\n", oneLine(f.Err))
		}
		r.keyList(&b, "Missing keys", f.Stats.MissingKeys)
		r.keyList(&b, "Extra keys", f.Stats.ExtraKeys)
		r.keyList(&b, "Failed keys", f.FailedPaths)
	}
	return &b, nil
}

func (r *Reporter) keyList(b *bytes.Buffer, title string, keys []string) {
	if len(keys) == 0 || r.maxKeys < 0 {
		return
	}
	fmt.Fprintf(b, "%s (%d):\n\n", title, len(keys))
	n := len(keys)
	if n > r.maxKeys {
		n = r.maxKeys
	}
	for _, k := range keys[:n] {
		fmt.Fprintf(b, "- `%s`\n", strings.ReplaceAll(k, "`", "'"))
	}
	if n < len(keys) {
		fmt.Fprintf(b, "- … and %d more\n", len(keys)-n)
	}
	b.WriteByte('\n')
}

func cell(s string) string { return strings.ReplaceAll(oneLine(s), "|", `\|`) }

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var _ contract.Reporter = (*Reporter)(nil)
