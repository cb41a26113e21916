// Package rate 按分组限制填充请求的频率（RPM）与条目吞吐（EPM）。
package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"catfix/pkg/contract"
)

// LimitKey: 限流分组键（例如 filler 名称 + 凭据摘要）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM              int // requests per minute
	EPM              int // entries per minute（每分钟送填条目数）
	MaxEntriesPerReq int // 单次请求条目上限，0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Entries  int // 本次请求携带的条目数（>=0）
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；违反单请求上限时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (rpmAvail, epmAvail int)
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	for k, lim := range m {
		g.m[k] = newEntry(lim)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

// entry: 一个分组的两个维度；nil 限流器表示该维度不启用。
type entry struct {
	mu  sync.Mutex
	lim Limits
	req *xrate.Limiter // RPM 维度
	ent *xrate.Limiter // EPM 维度
}

func newEntry(lim Limits) *entry {
	return &entry{lim: lim, req: perMinute(lim.RPM), ent: perMinute(lim.EPM)}
}

// perMinute: 容量 n、每分钟匀速补满的令牌桶。
func perMinute(n int) *xrate.Limiter {
	if n <= 0 {
		return nil
	}
	return xrate.NewLimiter(xrate.Limit(float64(n)/60.0), n)
}

// need: 单次申请超过桶容量时按满桶计，避免永远等不到。
func need(l *xrate.Limiter, n int) int {
	return min(n, l.Burst())
}

func ready(l *xrate.Limiter, n int, now time.Time) bool {
	if l == nil || n <= 0 {
		return true
	}
	return l.TokensAt(now) >= float64(need(l, n))
}

func take(l *xrate.Limiter, n int, now time.Time) {
	if l == nil || n <= 0 {
		return
	}
	l.AllowN(now, need(l, n))
}

// waitFor 返回令牌足够消费 n 还需等待的时长。
func waitFor(l *xrate.Limiter, n int, now time.Time) time.Duration {
	if l == nil || n <= 0 {
		return 0
	}
	deficit := float64(need(l, n)) - l.TokensAt(now)
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / float64(l.Limit()) * float64(time.Second))
}

func avail(l *xrate.Limiter, now time.Time) int {
	if l == nil {
		return 0
	}
	return max(int(l.TokensAt(now)), 0)
}

// tryLocked: 两个维度都足够时一并扣减；调用方持有 e.mu。
func (e *entry) tryLocked(a Ask, now time.Time) bool {
	if !ready(e.req, a.Requests, now) || !ready(e.ent, a.Entries, now) {
		return false
	}
	take(e.req, a.Requests, now)
	take(e.ent, a.Entries, now)
	return true
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的 key 视为不限额
		e = newEntry(Limits{})
		g.m[key] = e
	}
	return e
}

func (g *gate) check(a Ask) (*entry, error) {
	if a.Requests <= 0 || a.Entries < 0 {
		return nil, contract.ErrInvalidInput
	}
	e := g.get(a.Key)
	if e.lim.MaxEntriesPerReq > 0 && a.Entries > e.lim.MaxEntriesPerReq {
		return nil, fmt.Errorf("%w: %d entries > max %d per request", contract.ErrBudgetExceeded, a.Entries, e.lim.MaxEntriesPerReq)
	}
	return e, nil
}

func (g *gate) Try(a Ask) bool {
	e, err := g.check(a)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tryLocked(a, g.clk())
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e, err := g.check(a)
	if err != nil {
		return err
	}
	// 最小睡眠粒度，避免忙等
	const minSleep = 10 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := g.clk()
		e.mu.Lock()
		if e.tryLocked(a, now) {
			e.mu.Unlock()
			return nil
		}
		d := max(waitFor(e.req, a.Requests, now), waitFor(e.ent, a.Entries, now)) + minSleep
		e.mu.Unlock()

		if err := SleepCtx(ctx, d); err != nil {
			return err
		}
	}
}

// SleepCtx 可取消的睡眠；长睡眠分片为最多 200ms 的步长以及时响应取消。
func SleepCtx(ctx context.Context, d time.Duration) error {
	const step = 200 * time.Millisecond
	for d > 0 {
		s := min(d, step)
		t := time.NewTimer(s)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return ctx.Err()
		case <-t.C:
		}
		d -= s
	}
	return nil
}

// Snapshot: 返回当前可用请求/条目的向下取整估值（仅诊断）。
func (g *gate) Snapshot(key LimitKey) (rpmAvail, epmAvail int) {
	e := g.get(key)
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	return avail(e.req, now), avail(e.ent, now)
}

var (
	_ Gate       = (*gate)(nil)
	_ Snapshoter = (*gate)(nil)
)
