package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "catfix/internal/config"
	"catfix/internal/diag"
	"catfix/internal/pipeline"
	"catfix/pkg/contract"
)

// 缺省配置文件候选（按顺序取第一个存在的）。
var defaultConfigFiles = []string{"config.json", "config.yaml", "config.yml"}

func (a *app) execute(cmd *cobra.Command, mode pipeline.Mode, targets []string) int {
	start := time.Now()
	corrID := uuid.NewString()
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := cfgpkg.LoadDotEnv(); err != nil {
		fprintf(a.stderr, "提示：.env 加载失败（已跳过）：%v\n", err)
	}
	logger := diag.NewLogger(corrID, "info")
	fail := func(code int, prefix string, err error) int {
		fprintf(a.stderr, "%s: %v\n", prefix, err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		_ = logger.Close()
		return code
	}

	cfg, err := a.loadConfig(cmd, targets)
	if err != nil {
		return fail(exitConfig, "配置解析失败", err)
	}
	if err := cfgpkg.Validate(cfg, mode); err != nil {
		// 打印有效配置，便于诊断
		_ = dumpConfig(a, cfg)
		return fail(exitConfig, "配置校验失败", err)
	}

	// 使用最终配置中的日志级别重建 logger
	_ = logger.Close()
	logger = diag.NewLogger(corrID, effLevel(cfg.Logging.Level))
	defer logger.Close()

	if mode != pipeline.ModeDiff {
		if err := preflightCheckOutputDir(cfg); err != nil {
			return fail(exitConfig, "输出目录不可写或无法创建", err)
		}
	}
	comp, set, err := cfgpkg.Assemble(cfg, mode)
	if err != nil {
		return fail(exitConfig, "装配失败", err)
	}

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(a.stderr, a.status && mode != pipeline.ModeDiff)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	filler := "none"
	if comp.Filler != nil {
		filler = cfgpkg.FillerLabel(cfg)
	}
	term.RunStart(set.FileConcurrency, filler)
	logger.DebugStart("config", "effective", "", "", effectiveKV(cfg, mode))

	t := logger.Start("pipeline", "run")
	sum, err := pipelineRun(cmd.Context(), comp, set, logger)
	if details, _ := cmd.Flags().GetBool("details"); details {
		printDetails(a, sum)
	}
	printSummary(a, mode, sum)
	if err != nil {
		// 分类到最接近的退出码（运行期错误）
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "error", "error")
		if code != "" && code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(a.stderr, "运行失败: %v\n", err)
		}
		term.RunFinish(false, time.Since(start))
		return exitRun
	}
	t.Finish("run", int64(len(sum.Files)))
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	term.RunFinish(sum.Failed == 0, time.Since(start))
	if sum.Failed > 0 {
		return exitFailed
	}
	return exitOK
}

// loadConfig 依次合并：默认值 → 配置文件（或 CATFIX_CONFIG_JSON）→ ENV → CLI。
func (a *app) loadConfig(cmd *cobra.Command, targets []string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	switch raw, path := os.Getenv("CATFIX_CONFIG_JSON"), a.resolveConfigPath(); {
	case raw != "":
		base, err := cfgpkg.LoadJSON([]byte(raw))
		if err != nil {
			return cfg, fmt.Errorf("CATFIX_CONFIG_JSON: %w", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	case path != "":
		base, err := cfgpkg.LoadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, overEnv)
	return cfgpkg.Merge(cfg, a.cliOverlay(cmd, targets)), nil
}

func (a *app) resolveConfigPath() string {
	if a.configPath != "" {
		return a.configPath
	}
	if s := os.Getenv("CATFIX_CONFIG_FILE"); s != "" {
		return s
	}
	for _, p := range defaultConfigFiles {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// cliOverlay 只收录显式给出的旗标，未给出的不覆盖下层配置。
func (a *app) cliOverlay(cmd *cobra.Command, targets []string) cfgpkg.Config {
	var over cfgpkg.Config
	changed := cmd.Flags().Changed
	over.Targets = targets
	if changed("source") {
		over.Source = a.source
	}
	if changed("source-lang") {
		over.SourceLanguage = a.sourceLang
	}
	if changed("target-lang") {
		over.TargetLanguage = a.targetLang
	}
	if changed("file-concurrency") {
		over.FileConcurrency = a.fileConcurrency
	}
	if changed("keep-extra") {
		over.KeepExtraKeys = a.keepExtra
	}
	if changed("copy-source") {
		over.CopySource = a.copySource
	}
	if changed("log-level") {
		over.Logging.Level = a.logLevel
	}
	if changed("filler") {
		over.Filler = a.filler
	}
	if changed("llm") {
		over.LLM = a.llm
	}
	if changed("concurrency") {
		over.Dispatch.Concurrency = a.concurrency
	}
	if changed("batch-size") {
		over.Dispatch.BatchSize = a.batchSize
	}
	if changed("max-retries") {
		n := a.maxRetries
		over.Dispatch.MaxRetries = &n
	}
	if changed("max-tokens") {
		over.MaxTokens = a.maxTokens
	}
	return over
}

func effLevel(s string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return "info"
}

// effectiveKV: 运行时配置摘要（不含密钥）。
func effectiveKV(cfg cfgpkg.Config, mode pipeline.Mode) map[string]string {
	kv := map[string]string{
		"mode":             string(mode),
		"source":           cfg.Source,
		"targets_count":    strconv.Itoa(len(cfg.Targets)),
		"file_concurrency": strconv.Itoa(cfg.FileConcurrency),
		"filler":           cfg.Filler,
		"llm":              cfg.LLM,
		"reader":           cfg.Components.Reader,
		"writer":           cfg.Components.Writer,
		"reporter":         cfg.Components.Reporter,
	}
	if p, ok := cfg.Provider[cfg.LLM]; ok {
		kv["provider_client"] = p.Client
		// 解析常见无敏感项
		var s struct {
			BaseURL string `json:"base_url"`
			Model   string `json:"model"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.BaseURL != "" {
			kv["base_url"] = s.BaseURL
		}
		if s.Model != "" {
			kv["model"] = s.Model
		}
	}
	return kv
}

func dumpConfig(a *app, c cfgpkg.Config) error {
	fprintf(a.stderr, "有效配置:\n")
	return writeJSON(a.stderr, c)
}

// printSummary: 每个文件一行统计，末行汇总。
func printSummary(a *app, mode pipeline.Mode, sum pipeline.Summary) {
	if len(sum.Files) == 0 {
		return
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fprintf(tw, "FILE\tSTATUS\tMATCH\tMISSING\tEXTRA\tORDER\tFILLED\tFAILED\n")
	for _, f := range sum.Files {
		fprintf(tw, "%s\t%s\t%d%%\t%d\t%d\t%d\t%d\t%d\n",
			f.FileID, f.Status, f.Stats.MatchRate, len(f.Stats.MissingKeys), len(f.Stats.ExtraKeys),
			f.Stats.OrderDiffCount, f.Translated, len(f.FailedPaths))
	}
	_ = tw.Flush()
	fprintf(a.stdout, "%s: %d completed, %d failed", mode, sum.Completed, sum.Failed)
	if mode == pipeline.ModeTranslate {
		fprintf(a.stdout, ", %d filled, %d keys failed", sum.Translated, sum.FailedKeys)
	}
	fprintf(a.stdout, "\n")
	for _, f := range sum.Files {
		if f.Err != nil {
			fprintf(a.stderr, "%s: %v\n", f.FileID, f.Err)
		}
	}
}

// printDetails: 逐路径列出非 matched 的差异。
func printDetails(a *app, sum pipeline.Summary) {
	for _, f := range sum.Files {
		n := 0
		for _, d := range f.Details {
			if d.Kind == contract.KindMatched {
				continue
			}
			if n == 0 {
				fprintf(a.stdout, "== %s\n", f.FileID)
			}
			n++
			fprintf(a.stdout, "  %-10s %s\n", d.Kind, d.Path)
		}
	}
}

// preflightCheckOutputDir: 当 Writer 使用文件系统实现(fs)且配置了 output_dir 时，启动前检查其可写性。
// - 若目录已存在：尝试创建并删除临时文件；失败则判为不可写。
// - 若目录不存在：检查父目录是否可写（尝试在父目录创建并删除临时目录）。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	writerName := strings.TrimSpace(cfg.Components.Writer)
	if writerName == "" {
		writerName = cfgpkg.Defaults().Components.Writer
	}
	if writerName != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		// 原地写回：目标文件各自所在目录由 writer 处理
		return nil
	}
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	case err == nil:
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	case !os.IsNotExist(err):
		return err
	}
	// 目录不存在：向上找到第一个存在的祖先并检查其可写性
	parent := filepath.Dir(filepath.Clean(dir))
	for {
		pst, err := os.Stat(parent)
		if err == nil {
			if !pst.IsDir() {
				return fmt.Errorf("父路径不是目录: %s", parent)
			}
			break
		}
		if !os.IsNotExist(err) {
			return err
		}
		next := filepath.Dir(parent)
		if next == parent {
			return fmt.Errorf("无法确定父目录: %s", dir)
		}
		parent = next
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	_ = os.RemoveAll(tmpd)
	return nil
}
