package pipeline

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"catfix/internal/cache"
	"catfix/internal/dispatch"
	"catfix/pkg/contract"
)

// Mode 运行模式。
type Mode string

const (
	// ModeTranslate: 缺失叶子经填充服务补齐。
	ModeTranslate Mode = "translate"
	// ModeFix: 仅按源结构重建；缺失叶子写哨兵，或 CopySource 时写源值。
	ModeFix Mode = "fix"
	// ModeDiff: 仅比对与统计，不分发、不重建、不写出。
	ModeDiff Mode = "diff"
)

// DefaultReportName 报告工件名。
const DefaultReportName = "report.md"

// Components 聚合运行所需组件。Filler/Reporter 可为 nil。
type Components struct {
	Reader   contract.Reader
	Writer   contract.Writer
	Filler   contract.Filler
	Reporter contract.Reporter
}

// Settings 运行期配置。
type Settings struct {
	Mode    Mode
	Source  string
	Targets []string

	SourceLanguage string
	// TargetLanguage 为空时取目标文件名（去扩展名），如 locales/fr.json → "fr"。
	TargetLanguage string
	Options        contract.FillOptions

	KeepExtraKeys bool
	// CopySource: fix 模式下用源值填充缺失叶子。
	CopySource bool

	Dispatch        dispatch.Config
	FileConcurrency int
	// Cache: 可选；同一次运行内跨文件共享。
	Cache *cache.FillCache

	// Indent: 输出缩进，默认两个空格。
	Indent     string
	ReportName string

	// 测试注入；为空取 time.Now 与 uuid。
	Clock func() time.Time
	NewID func() string
}

func (s Settings) withDefaults() Settings {
	if s.Mode == "" {
		s.Mode = ModeTranslate
	}
	if s.FileConcurrency <= 0 {
		s.FileConcurrency = 1
	}
	if s.Indent == "" {
		s.Indent = "  "
	}
	if s.ReportName == "" {
		s.ReportName = DefaultReportName
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.NewID == nil {
		s.NewID = uuid.NewString
	}
	return s
}

func (s Settings) targetLanguage(fileID contract.FileID) string {
	if s.TargetLanguage != "" {
		return s.TargetLanguage
	}
	base := path.Base(string(fileID))
	return strings.TrimSuffix(base, path.Ext(base))
}
