// Package pipeline 编排修复流程：读取 → 展开 → 比对 → （缓存/分发填充）→ 重建 → 写出 → 报告。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"catfix/internal/diag"
	"catfix/internal/diff"
	"catfix/internal/dispatch"
	"catfix/internal/flatten"
	"catfix/internal/rebuild"
	"catfix/pkg/contract"
	"catfix/pkg/jsonv"
)

// - 文件级并发：FileConcurrency 个文件同时处理，每个文件的结果写入自己的槽位；
// - 批级并发：由 dispatch 控制，每个文件独立的有界池；
// - 隔离：目标文件解析失败只影响该文件；源文件解析失败终止整次运行；
// - 计数：每个 FileResult 都带缺失/失败数量，部分失败不升级为运行错误。

// FileResult 单个目标文件的处理结果。
type FileResult struct {
	FileID      contract.FileID
	JobID       string
	Status      contract.JobStatus
	Stats       contract.DiffStats
	Details     []contract.DiffDetail
	Translated  int
	CacheHits   int
	FailedPaths []string
	// Output: 重建后的文档（diff 模式或解析失败时为零值）。
	Output jsonv.Value
	Err    error
}

// Summary 一次运行的汇总。
type Summary struct {
	Files      []FileResult
	Completed  int
	Failed     int
	Translated int
	FailedKeys int
}

// Orchestrator 持有一次运行的组件与配置；Cache/Gate 等实例归属于它。
type Orchestrator struct {
	comp   Components
	set    Settings
	logger *diag.Logger
	disp   *dispatch.Dispatcher
}

// New 校验组件与配置并构造编排器。
func New(comp Components, set Settings, logger *diag.Logger) (*Orchestrator, error) {
	set = set.withDefaults()
	if err := sanity(comp, set); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	dcfg := set.Dispatch
	if dcfg.Progress == nil {
		dcfg.Progress = func(fid contract.FileID, done, total, failed int) {
			if t := diag.GetTerminal(); t != nil {
				t.FileProgress(string(fid), done, total, failed)
			}
		}
	}
	return &Orchestrator{comp: comp, set: set, logger: logger, disp: dispatch.New(dcfg, logger)}, nil
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil {
		return fmt.Errorf("%w: pipeline: missing reader", contract.ErrInvalidInput)
	}
	switch s.Mode {
	case ModeTranslate, ModeFix:
		if c.Writer == nil {
			return fmt.Errorf("%w: pipeline: missing writer", contract.ErrInvalidInput)
		}
	case ModeDiff:
	default:
		return fmt.Errorf("%w: pipeline: unknown mode %q", contract.ErrInvalidInput, s.Mode)
	}
	if s.Source == "" {
		return fmt.Errorf("%w: pipeline: empty source", contract.ErrInvalidInput)
	}
	if len(s.Targets) == 0 {
		return fmt.Errorf("%w: pipeline: empty targets", contract.ErrInvalidInput)
	}
	return nil
}

// Run 构造编排器并执行一次运行。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Summary, error) {
	o, err := New(comp, set, logger)
	if err != nil {
		return Summary{}, err
	}
	return o.Run(ctx)
}

type targetDoc struct {
	id   contract.FileID
	data []byte
}

// Run 执行：读取源 → 读取全部目标 → 文件级并发修复 → 报告。
// 返回的 error 仅表示运行级失败（源不可用、读取失败、取消、报告写出失败）。
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	runStart := time.Now()
	src, srcID, err := o.readSource(ctx)
	if err != nil {
		return Summary{}, err
	}
	targets, err := o.readTargets(ctx, srcID)
	if err != nil {
		return Summary{}, err
	}

	srcFlat := flatten.Flatten(src)
	results := make([]FileResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.set.FileConcurrency)
	for i, td := range targets {
		g.Go(func() error {
			results[i] = o.processFile(gctx, src, srcFlat, td)
			// 取消是唯一会让整体停止的文件级错误
			if errors.Is(results[i].Err, context.Canceled) || errors.Is(results[i].Err, context.DeadlineExceeded) {
				return results[i].Err
			}
			return nil
		})
	}
	gerr := g.Wait()

	sum := Summary{Files: results}
	for _, r := range results {
		switch r.Status {
		case contract.StatusCompleted:
			sum.Completed++
		case contract.StatusFailed:
			sum.Failed++
		}
		sum.Translated += r.Translated
		sum.FailedKeys += len(r.FailedPaths)
	}
	if gerr != nil {
		return sum, gerr
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	if err := o.writeReport(ctx, results); err != nil {
		return sum, err
	}
	o.logger.InfoFinish("pipeline", "run", runStart, int64(len(results)))
	return sum, nil
}

func (o *Orchestrator) readSource(ctx context.Context) (jsonv.Value, contract.FileID, error) {
	var (
		doc   jsonv.Value
		id    contract.FileID
		found bool
	)
	err := o.comp.Reader.Iterate(ctx, []string{o.set.Source}, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		if found {
			return fmt.Errorf("%w: source %s must be a single file", contract.ErrInvalidInput, o.set.Source)
		}
		found, id = true, fid
		v, perr := jsonv.ParseReader(rc)
		if perr != nil {
			return perr
		}
		doc = v
		return nil
	})
	if err == nil && !found {
		err = fmt.Errorf("%w: source %s not found", contract.ErrInvalidInput, o.set.Source)
	}
	if err != nil {
		code := diag.Classify(err)
		o.logger.ErrorWith("reader", string(code), "read source failed", nil, string(id), "")
		diag.IncError("reader", string(code))
		return jsonv.Value{}, "", fmt.Errorf("source %s: %w", o.set.Source, err)
	}
	return doc, id, nil
}

func (o *Orchestrator) readTargets(ctx context.Context, srcID contract.FileID) ([]targetDoc, error) {
	var out []targetDoc
	seen := map[contract.FileID]bool{}
	timer := o.logger.Start("reader", "iterate targets")
	err := o.comp.Reader.Iterate(ctx, o.set.Targets, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		if fid == srcID || seen[fid] {
			return nil
		}
		seen[fid] = true
		b, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("read %s: %w", fid, err)
		}
		out = append(out, targetDoc{id: fid, data: b})
		return nil
	})
	if err != nil {
		code := diag.Classify(err)
		o.logger.ErrorWith("reader", string(code), "iterate failed", timer.Since(), "", "")
		diag.IncError("reader", string(code))
		return nil, fmt.Errorf("reader iterate: %w", err)
	}
	timer.Finish("iterate targets", int64(len(out)))
	return out, nil
}

// processFile 单文件：解析 → RepairDocument → 写出。任何错误都落在结果里。
func (o *Orchestrator) processFile(ctx context.Context, src jsonv.Value, srcFlat []contract.FlatEntry, td targetDoc) FileResult {
	start := time.Now()
	term := diag.GetTerminal()
	job := contract.NewFillJob(o.set.NewID(), td.id, o.set.Clock())
	res := FileResult{FileID: td.id, JobID: job.ID}
	defer func() {
		if term != nil {
			term.FileFinish(string(td.id), res.Status == contract.StatusCompleted, res.Translated, len(res.FailedPaths), time.Since(start))
		}
	}()

	tgt, err := jsonv.Parse(td.data)
	if err != nil {
		o.logger.ErrorWith("pipeline", string(diag.CodeParse), "parse target failed", nil, string(td.id), "")
		diag.IncError("pipeline", string(diag.CodeParse))
		_ = job.Transition(contract.StatusFailed, o.set.Clock())
		res.Status, res.Err = job.Status, fmt.Errorf("target %s: %w", td.id, err)
		return res
	}

	res, err = o.repair(ctx, job, src, srcFlat, tgt, term)
	if err != nil || o.set.Mode == ModeDiff {
		return res
	}

	b, err := jsonv.MarshalIndent(res.Output, o.set.Indent)
	if err == nil {
		wt := o.logger.StartWith("writer", "write", string(td.id), "")
		err = o.comp.Writer.Write(ctx, contract.ArtifactID(td.id), bytes.NewReader(b))
		if err == nil {
			wt.Finish("write", int64(len(b)))
			diag.IncOp("writer", "finish", "success")
		}
	}
	if err != nil {
		code := diag.Classify(err)
		o.logger.ErrorWith("writer", string(code), "write failed", nil, string(td.id), "")
		diag.IncError("writer", string(code))
		res.Err = fmt.Errorf("write %s: %w", td.id, err)
		if !job.Status.Terminal() {
			_ = job.Transition(contract.StatusFailed, o.set.Clock())
		}
		res.Status = contract.StatusFailed
	}
	return res
}

// RepairDocument 对已解析的源/目标文档执行一次完整修复（不写出）。
// 返回结果中 Output 为重建后的文档；error 仅在 ctx 取消时非空。
func (o *Orchestrator) RepairDocument(ctx context.Context, fileID contract.FileID, src, tgt jsonv.Value) (FileResult, error) {
	job := contract.NewFillJob(o.set.NewID(), fileID, o.set.Clock())
	return o.repair(ctx, job, src, flatten.Flatten(src), tgt, nil)
}

func (o *Orchestrator) repair(ctx context.Context, job *contract.FillJob, src jsonv.Value, srcFlat []contract.FlatEntry, tgt jsonv.Value, term *diag.Terminal) (FileResult, error) {
	fid := job.FileID
	res := FileResult{FileID: fid, JobID: job.ID, FailedPaths: []string{}}
	finish := func(st contract.JobStatus, err error) (FileResult, error) {
		if terr := job.Transition(st, o.set.Clock()); terr != nil && err == nil {
			err = terr
		}
		res.Status, res.Err = job.Status, err
		return res, err
	}
	if err := job.Transition(contract.StatusFixing, o.set.Clock()); err != nil {
		return finish(contract.StatusFailed, err)
	}

	dt := o.logger.StartWith("diff", "diff", string(fid), "")
	res.Stats, res.Details = diff.Diff(srcFlat, flatten.Flatten(tgt))
	dt.Finish("diff", int64(len(res.Stats.MissingKeys)))
	if o.set.Mode == ModeDiff {
		if term != nil {
			term.FileStart(string(fid), 0)
		}
		return finish(contract.StatusCompleted, nil)
	}

	// 目标上已有非字符串值的缺失路径在重建时保留目标值，不送填
	missing := flatten.Entries(srcFlat, rebuild.Holes(src, tgt))
	if n := len(res.Stats.MissingKeys) - len(missing); n > 0 {
		o.logger.DebugStart("pipeline", "missing paths kept from target", string(fid), "", map[string]string{
			"count": strconv.Itoa(n),
		})
	}
	filled := make(map[string]string, len(missing))
	fillerUsed := false
	switch {
	case len(missing) == 0:
		if term != nil {
			term.FileStart(string(fid), 0)
		}
	case o.set.Mode == ModeFix && o.set.CopySource:
		for _, e := range missing {
			filled[e.Key] = e.Value
		}
		if term != nil {
			term.FileStart(string(fid), 0)
		}
	case o.set.Mode == ModeTranslate && o.comp.Filler != nil:
		fillerUsed = true
		if err := job.Transition(contract.StatusTranslating, o.set.Clock()); err != nil {
			return finish(contract.StatusFailed, err)
		}
		if err := o.fill(ctx, fid, missing, filled, &res, term); err != nil {
			res.Translated = len(filled)
			return finish(contract.StatusFailed, err)
		}
	default:
		if term != nil {
			term.FileStart(string(fid), 0)
		}
	}
	res.Translated = len(filled)

	rt := o.logger.StartWith("rebuild", "rebuild", string(fid), "")
	res.Output = rebuild.Rebuild(src, tgt, filled, rebuild.Options{KeepExtraKeys: o.set.KeepExtraKeys})
	rt.Finish("rebuild", int64(len(filled)))

	if fillerUsed && len(filled) == 0 {
		o.logger.ErrorWithKV("pipeline", string(diag.CodeNetwork), "no entry filled", nil, string(fid), "", map[string]string{
			"missing": strconv.Itoa(len(missing)),
		})
		return finish(contract.StatusFailed, nil)
	}
	return finish(contract.StatusCompleted, nil)
}

// fill 先查缓存，再把未命中的条目交给分发器；结果合并到 filled。
func (o *Orchestrator) fill(ctx context.Context, fid contract.FileID, missing []contract.Entry, filled map[string]string, res *FileResult, term *diag.Terminal) error {
	srcLang, tgtLang := o.set.SourceLanguage, o.set.targetLanguage(fid)
	hit, miss := o.set.Cache.Split(srcLang, tgtLang, missing)
	for k, v := range hit {
		filled[k] = v
	}
	res.CacheHits = len(hit)
	if term != nil {
		term.FileStart(string(fid), len(dispatch.Split(fid, miss, o.disp.Config().BatchSize)))
	}
	if len(miss) == 0 {
		return nil
	}
	tmpl := contract.FillRequest{SourceLanguage: srcLang, TargetLanguage: tgtLang, Options: o.set.Options}
	dr, err := o.disp.Dispatch(ctx, fid, miss, dispatch.FromFiller(o.comp.Filler, tmpl))
	for k, v := range dr.Translations {
		filled[k] = v
	}
	o.set.Cache.Store(srcLang, tgtLang, miss, dr.Translations)
	res.FailedPaths = dr.FailedPaths
	return err
}

func (o *Orchestrator) writeReport(ctx context.Context, results []FileResult) error {
	if o.comp.Reporter == nil || o.comp.Writer == nil {
		return nil
	}
	reports := make([]contract.FileReport, len(results))
	for i, r := range results {
		reports[i] = contract.FileReport{
			FileID:      r.FileID,
			Status:      r.Status,
			Stats:       r.Stats,
			Translated:  r.Translated,
			FailedPaths: r.FailedPaths,
		}
		if r.Err != nil {
			reports[i].Err = r.Err.Error()
		}
	}
	rd, err := o.comp.Reporter.Render(ctx, reports)
	if err == nil {
		err = o.comp.Writer.Write(ctx, contract.ArtifactID(o.set.ReportName), rd)
	}
	if err != nil {
		code := diag.Classify(err)
		o.logger.ErrorWith("reporter", string(code), "report failed", nil, o.set.ReportName, "")
		diag.IncError("reporter", string(code))
		return fmt.Errorf("report %s: %w", o.comp.Reporter.Name(), err)
	}
	return nil
}
