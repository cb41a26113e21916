package diag

import (
	"strings"
	"sync"
)

// 进程内指标（并发安全）：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计与次数）

// Metrics 为某一时刻的指标快照。
type Metrics struct {
	Ops      map[string]int64 // key: comp|stage|result
	Errors   map[string]int64 // key: comp|code
	DurSumMS map[string]int64 // key: comp|stage
	DurCount map[string]int64
}

var (
	metricsMu sync.Mutex
	metrics   = newMetrics()
)

func newMetrics() Metrics {
	return Metrics{
		Ops:      map[string]int64{},
		Errors:   map[string]int64{},
		DurSumMS: map[string]int64{},
		DurCount: map[string]int64{},
	}
}

func key(parts ...string) string { return strings.Join(parts, "|") }

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	metricsMu.Lock()
	metrics.Ops[key(comp, stage, result)]++
	metricsMu.Unlock()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	metricsMu.Lock()
	metrics.Errors[key(comp, code)]++
	metricsMu.Unlock()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	metricsMu.Lock()
	k := key(comp, stage)
	metrics.DurSumMS[k] += durMS
	metrics.DurCount[k]++
	metricsMu.Unlock()
}

// Snapshot 返回当前指标的拷贝。
func Snapshot() Metrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	out := newMetrics()
	for k, v := range metrics.Ops {
		out.Ops[k] = v
	}
	for k, v := range metrics.Errors {
		out.Errors[k] = v
	}
	for k, v := range metrics.DurSumMS {
		out.DurSumMS[k] = v
	}
	for k, v := range metrics.DurCount {
		out.DurCount[k] = v
	}
	return out
}

// ResetMetrics 清零（测试用）。
func ResetMetrics() {
	metricsMu.Lock()
	metrics = newMetrics()
	metricsMu.Unlock()
}
