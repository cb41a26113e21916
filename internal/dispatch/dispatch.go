// Package dispatch 以有界并发、带退避重试的方式把缺失条目分批送填，容忍部分失败。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"catfix/internal/diag"
	"catfix/internal/rate"
	"catfix/pkg/contract"
)

const (
	DefaultBatchSize   = 50
	DefaultConcurrency = 10
	DefaultMaxRetries  = 3
	DefaultBackoff     = time.Second
	DefaultCallTimeout = 60 * time.Second
)

// Config 分发参数。零值字段取默认值；MaxRetries<0 视为 0。
type Config struct {
	BatchSize   int
	Concurrency int
	MaxRetries  int
	// Backoff: 第 k 次重试前等待 Backoff*2^k（k=1..MaxRetries）。
	Backoff time.Duration
	// CallTimeout: 单次填充调用超时。
	CallTimeout time.Duration
	// 限流闸门（可选）：每次调用前 Wait(Requests=1, Entries=批大小)
	Gate    rate.Gate
	GateKey rate.LimitKey
	// Progress: 每个批次终结后回调（聚合 goroutine 内串行调用）。
	Progress func(fileID contract.FileID, done, total, failed int)
}

// DefaultConfig 返回默认参数（重试 3 次：2s/4s/8s）。
func DefaultConfig() Config {
	return Config{
		BatchSize:   DefaultBatchSize,
		Concurrency: DefaultConcurrency,
		MaxRetries:  DefaultMaxRetries,
		Backoff:     DefaultBackoff,
		CallTimeout: DefaultCallTimeout,
	}
}

func (c Config) normalized() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return c
}

// FillFunc 对一个批次发起一次填充调用，返回 path→值。
// 出错时返回的非空映射视为部分结果。
type FillFunc func(ctx context.Context, b contract.Batch) (map[string]string, error)

// FromFiller 以 tmpl 为请求模板（语言与选项），逐批替换 Entries 调用 f。
func FromFiller(f contract.Filler, tmpl contract.FillRequest) FillFunc {
	return func(ctx context.Context, b contract.Batch) (map[string]string, error) {
		req := tmpl
		req.Entries = b.Entries
		resp, err := f.Fill(ctx, req)
		return resp.Translations, err
	}
}

// Result 一次分发的结果。每个输入路径恰好出现在 Translations 或 FailedPaths 之一。
type Result struct {
	Translations  map[string]string
	FailedPaths   []string // 按输入顺序
	Batches       int
	FailedBatches int // 整批失败（重试耗尽或取消）的批数
	Calls         int // 实际发起的填充调用次数（含重试）
}

// Dispatcher 批量分发器。
type Dispatcher struct {
	cfg    Config
	logger *diag.Logger
}

// New 构造分发器；logger 可为 nil。
func New(cfg Config, logger *diag.Logger) *Dispatcher {
	return &Dispatcher{cfg: cfg.normalized(), logger: logger}
}

// Config 返回规范化后的参数。
func (d *Dispatcher) Config() Config { return d.cfg }

type outcome struct {
	b     contract.Batch
	got   map[string]string
	err   error
	calls int
}

// Dispatch 把 entries 切批后并发送填。
// - 同时在途调用数不超过 Concurrency；
// - 单批失败按退避重试，只重试尚未拿到结果的路径；耗尽后剩余路径记为失败，不影响其他批；
// - 成功响应中缺少的路径记为失败，未请求的路径忽略；
// - ctx 取消时中止在途调用与退避等待，未完成路径记为失败，并返回 ctx.Err()。
func (d *Dispatcher) Dispatch(ctx context.Context, fileID contract.FileID, entries []contract.Entry, fill FillFunc) (Result, error) {
	res := Result{Translations: make(map[string]string, len(entries)), FailedPaths: []string{}}
	batches := Split(fileID, entries, d.cfg.BatchSize)
	res.Batches = len(batches)
	if len(batches) == 0 {
		return res, ctx.Err()
	}

	t0 := d.logger.StartWithKV("dispatch", "dispatch", string(fileID), "", map[string]string{
		"entries": strconv.Itoa(len(entries)),
		"batches": strconv.Itoa(len(batches)),
	})

	jobs := make(chan contract.Batch, len(batches))
	for _, b := range batches {
		jobs <- b
	}
	close(jobs)
	results := make(chan outcome, len(batches))

	var wg sync.WaitGroup
	workers := min(d.cfg.Concurrency, len(batches))
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for b := range jobs {
				results <- d.runBatch(ctx, b, fill)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// 单一聚合者：计数与合并只在此 goroutine 内进行
	failed := make(map[string]struct{})
	done := 0
	for r := range results {
		done++
		res.Calls += r.calls
		// 失败批也可能带回部分结果（重试前已完成的子集）
		kept, missing := contract.ValidateTranslations(r.b.Entries, r.got)
		for k, v := range kept {
			res.Translations[k] = v
		}
		for _, k := range missing {
			failed[k] = struct{}{}
		}
		if r.err != nil {
			res.FailedBatches++
		} else if len(missing) > 0 {
			d.logger.ErrorWithKV("dispatch", string(diag.CodeProtocol), "response missing keys", nil, string(fileID), strconv.Itoa(r.b.Index), map[string]string{
				"missing": strconv.Itoa(len(missing)),
			})
		}
		if d.cfg.Progress != nil {
			d.cfg.Progress(fileID, done, len(batches), res.FailedBatches)
		}
	}

	for _, e := range entries {
		if _, ok := failed[e.Key]; ok {
			res.FailedPaths = append(res.FailedPaths, e.Key)
		}
	}
	t0.Finish("dispatch", int64(len(res.Translations)))
	diag.IncOp("dispatch", "finish", "success")
	return res, ctx.Err()
}

// runBatch 显式有界重试循环。调用方 ctx 取消或闸门拒绝时立即放弃；其余错误一律重试。
// 出错调用带回的部分结果累积到 out.got，后续尝试只发送剩余条目。
func (d *Dispatcher) runBatch(ctx context.Context, b contract.Batch, fill FillFunc) outcome {
	batchID := strconv.Itoa(b.Index)
	out := outcome{b: b, got: make(map[string]string, len(b.Entries))}
	cur := b
	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := rate.SleepCtx(ctx, d.cfg.Backoff*time.Duration(1<<attempt)); err != nil {
				out.err = err
				return out
			}
		}
		if err := ctx.Err(); err != nil {
			out.err = err
			return out
		}
		if d.cfg.Gate != nil {
			if err := d.cfg.Gate.Wait(ctx, rate.Ask{Key: d.cfg.GateKey, Requests: 1, Entries: len(cur.Entries)}); err != nil {
				d.fail("gate", err, nil, b.FileID, batchID)
				out.err = err
				// 超过单请求上限属于配置问题，重试无意义
				return out
			}
		}

		timer := d.logger.StartWithKV("filler", "fill", string(b.FileID), batchID, map[string]string{
			"entries": strconv.Itoa(len(cur.Entries)),
			"attempt": strconv.Itoa(attempt + 1),
		})
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		got, err := fill(callCtx, cur)
		cancel()
		out.calls++
		kept, missing := contract.ValidateTranslations(cur.Entries, got)
		for k, v := range kept {
			out.got[k] = v
		}
		if err == nil {
			timer.Finish("fill", int64(len(got)))
			diag.IncOp("filler", "finish", "success")
			return out
		}
		lastErr = err
		if ctx.Err() != nil {
			d.fail("filler", err, timer, b.FileID, batchID)
			out.err = ctx.Err()
			return out
		}
		if len(missing) == 0 {
			// 出错前已拿到全部条目
			timer.Finish("fill", int64(len(kept)))
			return out
		}
		if len(kept) > 0 {
			cur.Entries = remaining(cur.Entries, missing)
		}
		if attempt < d.cfg.MaxRetries {
			kv := upstreamKV(err)
			kv["attempt"] = strconv.Itoa(attempt + 1)
			kv["kept"] = strconv.Itoa(len(kept))
			d.logger.RetryWithKV("filler", string(diag.Classify(err)), err.Error(), string(b.FileID), batchID, kv)
			diag.IncOp("filler", "retry", "error")
		}
	}
	d.fail("filler", lastErr, nil, b.FileID, batchID)
	out.err = fmt.Errorf("batch %d: retries exhausted after %d attempts: %w", b.Index, out.calls, lastErr)
	return out
}

// remaining 按原顺序保留 keys 中的条目。
func remaining(entries []contract.Entry, keys []string) []contract.Entry {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	out := make([]contract.Entry, 0, len(keys))
	for _, e := range entries {
		if _, ok := want[e.Key]; ok {
			out = append(out, e)
		}
	}
	return out
}

func (d *Dispatcher) fail(comp string, err error, timer *diag.Timer, fileID contract.FileID, batch string) {
	code := diag.Classify(err)
	d.logger.ErrorWithKV(comp, string(code), err.Error(), timer.Since(), string(fileID), batch, upstreamKV(err))
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

// upstreamKV 若为上游 HTTP 错误，附带状态码与消息片段。
func upstreamKV(err error) map[string]string {
	kv := map[string]string{}
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		kv["http_status"] = strconv.Itoa(ue.UpstreamStatus())
		if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
			if len(m) > 200 {
				m = m[:200]
			}
			kv["upstream_msg"] = m
		}
	}
	return kv
}
