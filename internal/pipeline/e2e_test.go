package pipeline_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "catfix/internal/config"
	"catfix/internal/pipeline"
	"catfix/pkg/contract"
	"catfix/pkg/jsonv"
)

var filesDir = filepath.Join("..", "..", "testdata", "files")

// baseConfig: 可运行的最小配置；输出落在 outDir（扁平），不改动夹具。
func baseConfig(outDir string, targets ...string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Source = filepath.Join(filesDir, "en.json")
	cfg.Targets = targets
	cfg.SourceLanguage = "en"
	cfg.Logging.Level = "error"
	cfg.Dispatch.BackoffMS = 1
	cfg.Provider = map[string]cfgpkg.Provider{}
	cfg.Options.Writer = json.RawMessage(fmt.Sprintf(`{"output_dir":%q,"atomic":false,"flat":true}`, outDir))
	return cfg
}

func runPipeline(t *testing.T, cfg cfgpkg.Config, mode pipeline.Mode) (pipeline.Summary, error) {
	t.Helper()
	comp, set, err := cfgpkg.Assemble(cfg, mode)
	if err != nil {
		return pipeline.Summary{}, err
	}
	return pipeline.Run(context.Background(), comp, set, nil)
}

func readDoc(t *testing.T, path string) jsonv.Value {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	v, err := jsonv.Parse(b)
	require.NoError(t, err)
	return v
}

const wantFR = `{
  "app": {"title": "%[1]s: Catalog", "menu": {"open": "Ouvrir", "save": "%[1]s: Save", "quit": "Quitter"}},
  "errors": ["Introuvable", "%[1]s: Forbidden"],
  "count": 3,
  "enabled": true
}`

func TestE2ESuccess(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(outDir, filepath.Join(filesDir, "fr.json"))
	cfg.LLM = "mock"
	cfg.Provider["mock"] = cfgpkg.Provider{Client: "mock", Options: json.RawMessage(`{"prefix":"DEBUG"}`)}

	sum, err := runPipeline(t, cfg, pipeline.ModeTranslate)
	require.NoError(t, err)
	require.Len(t, sum.Files, 1)
	fr := sum.Files[0]
	assert.Equal(t, contract.StatusCompleted, fr.Status)
	assert.Equal(t, 3, fr.Translated)
	assert.Equal(t, []string{"app.legacy"}, fr.Stats.ExtraKeys)
	assert.Equal(t, 50, fr.Stats.MatchRate)

	got := readDoc(t, filepath.Join(outDir, "fr.json"))
	want, err := jsonv.Parse([]byte(fmt.Sprintf(wantFR, "DEBUG")))
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
	app, _ := got.Obj().Get("app")
	menu, _ := app.Obj().Get("menu")
	assert.Equal(t, []string{"app", "errors", "count", "enabled"}, got.Obj().Keys())
	assert.Equal(t, []string{"open", "save", "quit"}, menu.Obj().Keys(), "键顺序跟随源")

	report, err := os.ReadFile(filepath.Join(outDir, pipeline.DefaultReportName))
	require.NoError(t, err)
	assert.Contains(t, string(report), "fr.json")
}

// 目录目标：源文件自身跳过，损坏文件单独失败
func TestE2EDirectoryIsolatesParseErrors(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(outDir, filesDir)
	cfg.LLM = "mock"
	cfg.Provider["mock"] = cfgpkg.Provider{Client: "mock"}

	sum, err := runPipeline(t, cfg, pipeline.ModeTranslate)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, 1, sum.Failed)
	for _, f := range sum.Files {
		assert.NotEqual(t, "en.json", filepath.Base(string(f.FileID)))
		if strings.HasSuffix(string(f.FileID), "de.json") {
			assert.ErrorIs(t, f.Err, contract.ErrParse)
		}
	}
	_, err = os.Stat(filepath.Join(outDir, "de.json"))
	assert.True(t, os.IsNotExist(err))
	report, err := os.ReadFile(filepath.Join(outDir, pipeline.DefaultReportName))
	require.NoError(t, err)
	assert.Contains(t, string(report), "de.json")
}

func TestE2EBudgetExceeded(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(outDir, filepath.Join(filesDir, "fr.json"))
	cfg.MaxTokens = 1
	cfg.LLM = "mock"
	cfg.Provider["mock"] = cfgpkg.Provider{Client: "mock"}

	_, err := runPipeline(t, cfg, pipeline.ModeTranslate)
	require.ErrorIs(t, err, contract.ErrBudgetExceeded)
	_, err = os.Stat(filepath.Join(outDir, "fr.json"))
	assert.True(t, os.IsNotExist(err), "装配失败时不应产生输出")
}

func TestE2ERetry(t *testing.T) {
	outDir := t.TempDir()
	logPath := filepath.Join(outDir, "flaky.log")
	cfg := baseConfig(outDir, filepath.Join(filesDir, "fr.json"))
	cfg.LLM = "flaky"
	retries := 2
	cfg.Dispatch.MaxRetries = &retries
	cfg.Provider["flaky"] = cfgpkg.Provider{
		Client:  "flaky",
		Options: json.RawMessage(fmt.Sprintf(`{"prefix":"FLAKY","log_path":%q}`, logPath)),
	}

	sum, err := runPipeline(t, cfg, pipeline.ModeTranslate)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Completed)

	want, err := jsonv.Parse([]byte(fmt.Sprintf(wantFR, "FLAKY")))
	require.NoError(t, err)
	assert.True(t, want.Equal(readDoc(t, filepath.Join(outDir, "fr.json"))))

	logData, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"rate_limited", "invalid_json", "ok"}, strings.Split(strings.TrimSpace(string(logData)), "\n"))
}

// 重试耗尽：缺失叶子全部失败，文件失败但仍写出带哨兵的重建结果
func TestE2ERetryExhausted(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(outDir, filepath.Join(filesDir, "fr.json"))
	cfg.LLM = "flaky"
	retries := 1
	cfg.Dispatch.MaxRetries = &retries
	cfg.Provider["flaky"] = cfgpkg.Provider{Client: "flaky"}

	sum, err := runPipeline(t, cfg, pipeline.ModeTranslate)
	require.NoError(t, err)
	require.Len(t, sum.Files, 1)
	assert.Equal(t, contract.StatusFailed, sum.Files[0].Status)
	assert.ElementsMatch(t, []string{"app.title", "app.menu.save", "errors.1"}, sum.Files[0].FailedPaths)

	got := readDoc(t, filepath.Join(outDir, "fr.json"))
	app, _ := got.Obj().Get("app")
	title, _ := app.Obj().Get("title")
	s, _ := title.Str()
	assert.Equal(t, contract.MissingSentinel("app.title"), s)
}

func TestE2EFixAndDiff(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(outDir, filepath.Join(filesDir, "fr.json"))
	cfg.CopySource = true
	cfg.KeepExtraKeys = true

	sum, err := runPipeline(t, cfg, pipeline.ModeFix)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Completed)
	got := readDoc(t, filepath.Join(outDir, "fr.json"))
	app, _ := got.Obj().Get("app")
	assert.Equal(t, []string{"title", "menu", "legacy"}, app.Obj().Keys(), "保留多余键并排在源键之后")
	title, _ := app.Obj().Get("title")
	s, _ := title.Str()
	assert.Equal(t, "Catalog", s)

	diffOut := t.TempDir()
	sum, err = runPipeline(t, baseConfig(diffOut, filepath.Join(filesDir, "fr.json")), pipeline.ModeDiff)
	require.NoError(t, err)
	require.Len(t, sum.Files, 1)
	assert.ElementsMatch(t, []string{"app.title", "app.menu.save", "errors.1"}, sum.Files[0].Stats.MissingKeys)
	assert.Equal(t, 2, sum.Files[0].Stats.OrderDiffCount)
	entries, err := os.ReadDir(diffOut)
	require.NoError(t, err)
	assert.Empty(t, entries, "diff 模式不写出")
}
