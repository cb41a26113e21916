package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"catfix/internal/pipeline"
)

// 退出码：0 成功；1 运行期错误；2 运行完成但有文件失败；3 配置/装配错误。
const (
	exitOK     = 0
	exitRun    = 1
	exitFailed = 2
	exitConfig = 3
)

var pipelineRun = pipeline.Run

// app 持有一次命令行调用的旗标与输出流。
type app struct {
	stdout io.Writer
	stderr io.Writer
	exit   int

	configPath string
	logLevel   string
	status     bool

	source          string
	sourceLang      string
	targetLang      string
	filler          string
	llm             string
	concurrency     int
	batchSize       int
	maxRetries      int
	fileConcurrency int
	maxTokens       int
	keepExtra       bool
	copySource      bool
	details         bool

	initFormat string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		// 旗标/参数错误由 cobra 返回，归为配置错误
		fprintf(stderr, "%v\n", err)
		return exitConfig
	}
	return a.exit
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "catfix",
		Short: "Structural diff and repair for JSON translation catalogs",
		Long: `catfix compares target-language JSON catalogs against a source catalog,
rebuilds each target in the source's shape and order, and fills missing
leaves through a translation backend.

Configuration precedence: CLI flags > environment (CATFIX_*, .env) > config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "配置文件（.json/.yaml）；缺省读取 ./config.json 或 ./config.yaml（若存在）")
	pf.StringVar(&a.logLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")
	pf.BoolVar(&a.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 逐行输出")

	translate := a.modeCmd(pipeline.ModeTranslate, "Rebuild targets and fill missing leaves through the configured filler")
	fix := a.modeCmd(pipeline.ModeFix, "Rebuild targets without filling; missing leaves get a sentinel or the source value")
	fix.Flags().BoolVar(&a.copySource, "copy-source", false, "缺失叶子写入源值而非哨兵")
	diff := a.modeCmd(pipeline.ModeDiff, "Report structural differences only; nothing is written")

	translate.Flags().StringVar(&a.filler, "filler", "", "填充器 llm|httpapi|none（覆盖配置）")
	translate.Flags().StringVar(&a.llm, "llm", "", "provider 名称（覆盖配置）")
	translate.Flags().IntVar(&a.concurrency, "concurrency", 0, "每文件并发填充调用数（覆盖配置）")
	translate.Flags().IntVar(&a.batchSize, "batch-size", 0, "每批条目数（覆盖配置）")
	translate.Flags().IntVar(&a.maxRetries, "max-retries", 0, "单批最大重试次数（覆盖配置；0 表示不重试）")
	translate.Flags().IntVar(&a.maxTokens, "max-tokens", 0, "llm 填充器单次提示 token 预算（覆盖配置）")

	root.AddCommand(translate, fix, diff, a.initCmd())
	return root
}

func (a *app) modeCmd(mode pipeline.Mode, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(mode) + " [targets...]",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.exit = a.execute(cmd, mode, args)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&a.source, "source", "", "源语言目录文件（覆盖配置）")
	f.StringVar(&a.sourceLang, "source-lang", "", "源语言代码")
	f.StringVar(&a.targetLang, "target-lang", "", "目标语言代码；缺省取目标文件名")
	f.IntVar(&a.fileConcurrency, "file-concurrency", 0, "同时处理的目标文件数（覆盖配置）")
	f.BoolVar(&a.details, "details", mode == pipeline.ModeDiff, "输出逐路径差异")
	if mode != pipeline.ModeDiff {
		f.BoolVar(&a.keepExtra, "keep-extra", false, "保留目标中多余的键")
	}
	return cmd
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}
