// Package jsonreport 把逐文件摘要渲染为机器可读的 JSON 报告。
package jsonreport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"catfix/pkg/contract"
)

type Reporter struct{ indent bool }

// New: indent 为 true 时两空格缩进。
func New(indent bool) *Reporter { return &Reporter{indent: indent} }

func (r *Reporter) Name() string { return "json" }

type fileOut struct {
	File        string             `json:"file"`
	Status      contract.JobStatus `json:"status"`
	Stats       contract.DiffStats `json:"stats"`
	Translated  int                `json:"translated"`
	FailedPaths []string           `json:"failed_paths"`
	Error       string             `json:"error,omitempty"`
}

type reportOut struct {
	Files     []fileOut `json:"files"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
}

func (r *Reporter) Render(ctx context.Context, files []contract.FileReport) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := reportOut{Files: make([]fileOut, 0, len(files))}
	for _, f := range files {
		failed := f.FailedPaths
		if failed == nil {
			failed = []string{}
		}
		out.Files = append(out.Files, fileOut{
			File:        string(f.FileID),
			Status:      f.Status,
			Stats:       f.Stats,
			Translated:  f.Translated,
			FailedPaths: failed,
			Error:       f.Err,
		})
		switch f.Status {
		case contract.StatusCompleted:
			out.Completed++
		case contract.StatusFailed:
			out.Failed++
		}
	}
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	if r.indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return &b, nil
}

var _ contract.Reporter = (*Reporter)(nil)
