package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catfix/internal/pipeline"
	"catfix/pkg/contract"
)

func intp(n int) *int { return &n }

// UT-CFG-01: 解析完整 config.json
func TestLoadFileJSON(t *testing.T) {
	cfg, err := LoadFile("../../testdata/config/basic.json")
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM)
	assert.Equal(t, []string{"locales"}, cfg.Targets)
	assert.Equal(t, "fs", cfg.Components.Reader)
	require.NotNil(t, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 0, *cfg.Dispatch.MaxRetries)
	assert.Equal(t, 50, cfg.Provider["gemini"].Limits.MaxEntriesPerReq)
	require.NoError(t, Validate(Merge(Defaults(), cfg), pipeline.ModeTranslate))
}

// UT-CFG-02: YAML 与 JSON 等价
func TestLoadFileYAMLMatchesJSON(t *testing.T) {
	j, err := LoadFile("../../testdata/config/basic.json")
	require.NoError(t, err)
	y, err := LoadFile("../../testdata/config/basic.yaml")
	require.NoError(t, err)

	assert.JSONEq(t, string(j.Provider["gemini"].Options), string(y.Provider["gemini"].Options))
	assert.JSONEq(t, string(j.Options.Writer), string(y.Options.Writer))
	j.Provider, y.Provider = nil, nil
	j.Options, y.Options = Options{}, Options{}
	assert.Equal(t, j, y)
}

// UT-CFG-03: 未知字段、尾随数据
func TestLoadStrict(t *testing.T) {
	_, err := LoadJSON([]byte(`{"unknown":1}`))
	assert.Error(t, err)
	_, err = LoadJSON([]byte(`{"source":"a"} {"source":"b"}`))
	assert.Error(t, err)
	_, err = LoadJSON(nil)
	assert.Error(t, err)
	_, err = LoadYAML([]byte("unknown: 1\n"))
	assert.Error(t, err)
	_, err = LoadYAML([]byte("dispatch:\n  nope: 2\n"))
	assert.Error(t, err)
	_, err = LoadYAML([]byte(""))
	assert.Error(t, err)
	_, err = LoadYAML([]byte("provider:\n  1: {}\n"))
	assert.Error(t, err, "非字符串键应失败")
}

// UT-CFG-04: ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"CATFIX_SOURCE=en.json",
		"CATFIX_TARGETS=a, b",
		"CATFIX_CONCURRENCY=3",
		"CATFIX_MAX_RETRIES=0",
		"CATFIX_LLM=mock",
		"CATFIX_COMPONENTS_REPORTER=none",
		"CATFIX_PROVIDER__mock__CLIENT=mock",
		"CATFIX_PROVIDER__mock__LIMITS_EPM=100",
		"CATFIX_PROVIDER__mock__OPTIONS_JSON={\"prefix\":\"T\"}",
		"CATFIX_PROVIDER__empty__CLIENT=",
		"OTHER_LLM=ignored",
		"CATFIX_UNKNOWN=ignored",
	}
	over, err := EnvOverlay(env)
	require.NoError(t, err)
	assert.Equal(t, "en.json", over.Source)
	assert.Equal(t, []string{"a", "b"}, over.Targets)
	assert.Equal(t, 3, over.Dispatch.Concurrency)
	require.NotNil(t, over.Dispatch.MaxRetries)
	assert.Equal(t, 0, *over.Dispatch.MaxRetries)
	assert.Equal(t, "mock", over.LLM)
	assert.Equal(t, "none", over.Components.Reporter)
	require.Contains(t, over.Provider, "mock")
	assert.NotContains(t, over.Provider, "empty")
	assert.Equal(t, 100, over.Provider["mock"].Limits.EPM)
	assert.JSONEq(t, `{"prefix":"T"}`, string(over.Provider["mock"].Options))
}

func TestEnvOverlayRejectsBadValues(t *testing.T) {
	for _, kv := range []string{
		"CATFIX_CONCURRENCY=many",
		"CATFIX_MAX_TOKENS=1.5",
		"CATFIX_PROVIDER__x__LIMITS_RPM=fast",
		"CATFIX_PROVIDER__x__OPTIONS_JSON={bad",
	} {
		_, err := EnvOverlay([]string{kv})
		assert.Error(t, err, kv)
	}
}

// UT-CFG-05: Merge 优先级与 MaxRetries 显式 0
func TestMerge(t *testing.T) {
	base := Defaults()
	base.Dispatch.MaxRetries = intp(5)
	base.Provider = map[string]Provider{"mock": {Client: "mock", Options: json.RawMessage(`{"prefix":"P"}`)}}

	over := Config{
		Targets:  []string{"x"},
		Dispatch: Dispatch{MaxRetries: intp(0), BatchSize: 7},
		Provider: map[string]Provider{"mock": {Limits: Limits{RPM: 9}}},
	}
	got := Merge(base, over)
	assert.Equal(t, []string{"x"}, got.Targets)
	assert.Equal(t, 0, *got.Dispatch.MaxRetries)
	assert.Equal(t, 7, got.Dispatch.BatchSize)
	assert.Equal(t, "fs", got.Components.Reader, "空值不覆盖")
	p := got.Provider["mock"]
	assert.Equal(t, "mock", p.Client, "同名 provider 逐字段覆盖")
	assert.Equal(t, 9, p.Limits.RPM)
	assert.JSONEq(t, `{"prefix":"P"}`, string(p.Options))

	// 未设置 MaxRetries 不覆盖
	assert.Equal(t, 5, *Merge(base, Config{}).Dispatch.MaxRetries)
	// 输入不被修改
	over.Targets[0] = "y"
	assert.Equal(t, []string{"x"}, got.Targets)
	assert.Equal(t, 0, base.Provider["mock"].Limits.RPM)
}

func validCfg() Config {
	cfg := DefaultTemplateConfig()
	cfg.Source = "en.json"
	cfg.Targets = []string{"fr.json"}
	return cfg
}

// UT-CFG-06: Validate 错误分支
func TestValidateErrors(t *testing.T) {
	require.NoError(t, Validate(validCfg(), pipeline.ModeTranslate))

	cases := []struct {
		name string
		mode pipeline.Mode
		mut  func(*Config)
	}{
		{"mode", "bogus", func(*Config) {}},
		{"source", pipeline.ModeFix, func(c *Config) { c.Source = " " }},
		{"targets", pipeline.ModeFix, func(c *Config) { c.Targets = nil }},
		{"empty target", pipeline.ModeFix, func(c *Config) { c.Targets = []string{""} }},
		{"stdin target", pipeline.ModeFix, func(c *Config) { c.Targets = []string{"-"} }},
		{"stdin mixed", pipeline.ModeDiff, func(c *Config) { c.Targets = []string{"-", "a"} }},
		{"stdin both", pipeline.ModeDiff, func(c *Config) { c.Source, c.Targets = "-", []string{"-"} }},
		{"retries", pipeline.ModeFix, func(c *Config) { c.Dispatch.MaxRetries = intp(-1) }},
		{"batch", pipeline.ModeFix, func(c *Config) { c.Dispatch.BatchSize = -1 }},
		{"indent", pipeline.ModeFix, func(c *Config) { c.Indent = "xx" }},
		{"reader", pipeline.ModeDiff, func(c *Config) { c.Components.Reader = "nope" }},
		{"writer", pipeline.ModeFix, func(c *Config) { c.Components.Writer = "nope" }},
		{"reporter", pipeline.ModeFix, func(c *Config) { c.Components.Reporter = "nope" }},
		{"llm", pipeline.ModeTranslate, func(c *Config) { c.LLM = "" }},
		{"provider", pipeline.ModeTranslate, func(c *Config) { c.LLM = "nope" }},
		{"client", pipeline.ModeTranslate, func(c *Config) { c.Provider["x"] = Provider{Client: "nope"}; c.LLM = "x" }},
		{"filler", pipeline.ModeTranslate, func(c *Config) { c.Filler = "nope" }},
		{"entries per req", pipeline.ModeTranslate, func(c *Config) { c.Dispatch.BatchSize = 500 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validCfg()
			tc.mut(&cfg)
			assert.Error(t, Validate(cfg, tc.mode))
		})
	}

	// diff 模式不需要 writer/filler
	cfg := validCfg()
	cfg.Components.Writer, cfg.LLM = "nope", ""
	cfg.Targets = []string{"-"}
	assert.NoError(t, Validate(cfg, pipeline.ModeDiff))
	// 无填充器的 translate 合法
	cfg = validCfg()
	cfg.Filler, cfg.LLM = FillerNone, ""
	assert.NoError(t, Validate(cfg, pipeline.ModeTranslate))
}

// UT-CFG-07: 装配 translate（mock LLM + 缓存 + 限流）
func TestAssembleTranslate(t *testing.T) {
	cfg := validCfg()
	cfg.Dispatch.BackoffMS = 20
	cfg.TargetLanguage = "fr"
	comp, set, err := Assemble(cfg, pipeline.ModeTranslate)
	require.NoError(t, err)
	assert.NotNil(t, comp.Reader)
	assert.NotNil(t, comp.Writer)
	assert.NotNil(t, comp.Reporter)
	require.NotNil(t, comp.Filler)
	assert.NotNil(t, set.Cache)
	assert.NotNil(t, set.Dispatch.Gate)
	assert.NotEmpty(t, set.Dispatch.GateKey)
	assert.Equal(t, 3, set.Dispatch.MaxRetries)
	assert.Equal(t, 20*time.Millisecond, set.Dispatch.Backoff)
	assert.Equal(t, pipeline.ModeTranslate, set.Mode)
	assert.True(t, set.Options.PreservePlaceholders)

	resp, err := comp.Filler.Fill(t.Context(), contract.FillRequest{
		TargetLanguage: "fr",
		Entries:        []contract.Entry{{Key: "a.b", Value: "Hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "MOCK: Hello", resp.Translations["a.b"])
}

func TestAssembleModes(t *testing.T) {
	cfg := validCfg()
	cfg.Components.Reporter = ReporterNone
	cfg.CacheSize = -1

	comp, set, err := Assemble(cfg, pipeline.ModeFix)
	require.NoError(t, err)
	assert.Nil(t, comp.Filler)
	assert.Nil(t, comp.Reporter)
	assert.Nil(t, set.Cache)
	assert.NotNil(t, comp.Writer)

	comp, _, err = Assemble(cfg, pipeline.ModeDiff)
	require.NoError(t, err)
	assert.Nil(t, comp.Writer)
	assert.Nil(t, comp.Filler)

	cfg.Filler = FillerNone
	comp, set, err = Assemble(cfg, pipeline.ModeTranslate)
	require.NoError(t, err)
	assert.Nil(t, comp.Filler)
	assert.Nil(t, set.Dispatch.Gate)
}

func TestAssembleHTTPAPI(t *testing.T) {
	cfg := validCfg()
	cfg.Filler = FillerHTTPAPI
	cfg.Options.Filler = json.RawMessage(`{"endpoint":"http://127.0.0.1:9/fill"}`)
	cfg.Limits = Limits{RPM: 10}
	comp, set, err := Assemble(cfg, pipeline.ModeTranslate)
	require.NoError(t, err)
	assert.NotNil(t, comp.Filler)
	assert.Contains(t, string(set.Dispatch.GateKey), "httpapi:")

	cfg.Options.Filler = json.RawMessage(`{"endpoint":"nope"}`)
	_, _, err = Assemble(cfg, pipeline.ModeTranslate)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestFillerLabel(t *testing.T) {
	assert.Equal(t, "llm:mock", FillerLabel(validCfg()))
	assert.Equal(t, "httpapi", FillerLabel(Config{Filler: "httpapi"}))
}

// UT-CFG-08: 模板可往返且可通过校验
func TestTemplateRoundTrip(t *testing.T) {
	tmpl := DefaultTemplateConfig()
	require.NoError(t, Validate(tmpl, pipeline.ModeTranslate))

	jb, err := RenderJSON(tmpl)
	require.NoError(t, err)
	fromJSON, err := LoadJSON(jb)
	require.NoError(t, err)
	assert.Equal(t, tmpl.LLM, fromJSON.LLM)

	yb, err := RenderYAML(tmpl)
	require.NoError(t, err)
	assert.Contains(t, string(yb), "source: locales/en.json")
	assert.NotContains(t, string(yb), "{", "子树应为块风格")
	fromYAML, err := LoadYAML(yb)
	require.NoError(t, err)
	assert.Equal(t, *tmpl.Dispatch.MaxRetries, *fromYAML.Dispatch.MaxRetries)
	assert.JSONEq(t, string(tmpl.Options.Reader), string(fromYAML.Options.Reader))
	assert.JSONEq(t, string(tmpl.Provider["openai"].Options), string(fromYAML.Provider["openai"].Options))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(p, []byte("CATFIX_TEST_DOTENV=from-file\nCATFIX_TEST_KEEP=from-file\n"), 0o644))
	t.Setenv("CATFIX_TEST_KEEP", "from-env")
	t.Setenv("CATFIX_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("CATFIX_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), p))
	assert.Equal(t, "from-file", os.Getenv("CATFIX_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("CATFIX_TEST_KEEP"), "已存在的变量不覆盖")
}

func TestSplitCommaAtoi(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitComma("a, b , ,c"))
	assert.Nil(t, splitComma(""))
	v, err := atoi(" 10 ")
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	_, err = atoi("1x")
	assert.Error(t, err)
}
