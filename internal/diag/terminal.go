package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Terminal: 终端进度提示（非日志）。
// - TTY: 单行 \r 覆盖；非 TTY: 关键节点分行打印。
// - 状态标签经 lipgloss 着色；非终端 writer 自动降级为纯文本。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	okStyle   lipgloss.Style
	failStyle lipgloss.Style
	dimStyle  lipgloss.Style

	concurrency int
	filler      string
	filesDone   int
	filesFailed int
	runStart    time.Time

	// 进度按文件名聚合；多文件并发时只展示最近一次更新的文件
	curFileID    string
	batchesTotal map[string]int
	batchesDone  int
	errCount     int

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器；enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	r := lipgloss.NewRenderer(w)
	t := &Terminal{
		w:            w,
		enabled:      enabled,
		okStyle:      r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		failStyle:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		dimStyle:     r.NewStyle().Faint(true),
		batchesTotal: map[string]int{},
	}
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// RunStart: 记录运行上下文（文件并发、填充后端）。
func (t *Terminal) RunStart(concurrency int, filler string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.concurrency = concurrency
	t.filler = filler
	t.filesDone, t.filesFailed = 0, 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("%s 并发=%d | filler=%s", t.dimStyle.Render("[run]"), concurrency, safe(filler)))
}

// FileStart: 标记文件与计划批次（0 表示无需填充）。
func (t *Terminal) FileStart(fileID string, batchesTotal int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	name := shortenBase(fileID, 48)
	t.curFileID = name
	t.batchesTotal[name] = batchesTotal
	t.batchesDone = 0
	t.errCount = 0
	if !t.isTTY {
		t.println(fmt.Sprintf("[file] %s | 计划批次=%d", name, batchesTotal))
	}
}

// FileProgress: 周期性进度（≥100ms 节流，仅 TTY）。
func (t *Terminal) FileProgress(fileID string, done, total, errs int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	t.curFileID = shortenBase(fileID, 48)
	t.batchesDone = done
	t.batchesTotal[t.curFileID] = total
	t.errCount = errs
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	t.printInline(fmt.Sprintf("[file] %s | 批次 %d/%d | 失败 %d | 并发 %d | 用时 %s",
		t.curFileID, done, total, errs, t.concurrency, formatSince(t.runStart)))
}

// FileFinish: 完成一个文件（立即换行输出结果）。
func (t *Terminal) FileFinish(fileID string, ok bool, filled, failed int, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.filesDone++
	tag := t.okStyle.Render("[done]")
	if !ok {
		t.filesFailed++
		tag = t.failStyle.Render("[fail]")
	}
	name := shortenBase(fileID, 48)
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("%s %s | 批次 %d | 填充 %d | 失败 %d | 用时 %s",
		tag, name, t.batchesTotal[name], filled, failed, formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := t.okStyle.Render("[ok]")
	if !ok {
		tag = t.failStyle.Render("[fail]")
	}
	t.println(fmt.Sprintf("%s 全部完成 | 文件 %d | 失败 %d | 总用时 %s", tag, t.filesDone, t.filesFailed, formatDur(dur)))
}

func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 新行比旧行短时以空格覆盖残留
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if visLen(base) <= max {
		return base
	}
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	rs := []rune(base)
	return string(rs[:cut]) + "…"
}

func visLen(s string) int { return lipgloss.Width(s) }

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
