package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀。
const EnvPrefix = "CATFIX_"

// 组件默认名。
const (
	FillerLLM     = "llm"
	FillerHTTPAPI = "httpapi"
	FillerNone    = "none"
	ReporterNone  = "none"
)

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：LLM 不设默认（必须由文件/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		FileConcurrency: 1,
		Filler:          FillerLLM,
		Components: Components{
			Reader:        "fs",
			Writer:        "fs",
			Reporter:      "markdown",
			PromptBuilder: "catalog",
			Decoder:       "keyjson",
		},
	}
}

// LoadFile 按扩展名解析配置文件：.yaml/.yml 走 YAML，其余按 JSON。
// 两种格式都严格拒绝未知字段。
func LoadFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(b)
	default:
		return LoadJSON(b)
	}
}

// LoadJSON 从原始 JSON 解析 Config（严格拒绝未知字段与尾随数据）。
func LoadJSON(raw []byte) (Config, error) {
	var cfg Config
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, errors.New("config: empty document")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if dec.More() {
		return cfg, errors.New("config: trailing data after document")
	}
	return cfg, nil
}

// LoadYAML 先解码为通用树，转成 JSON 后复用严格 JSON 解码。
// 组件 Options 子树因此在 YAML 中也可直接书写。
func LoadYAML(raw []byte) (Config, error) {
	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return Config{}, fmt.Errorf("config: yaml: %w", err)
	}
	if tree == nil {
		return Config{}, errors.New("config: empty document")
	}
	norm, err := normalizeYAML(tree)
	if err != nil {
		return Config{}, err
	}
	b, err := json.Marshal(norm)
	if err != nil {
		return Config{}, fmt.Errorf("config: yaml: %w", err)
	}
	return LoadJSON(b)
}

// normalizeYAML: 把 map[any]any 等非字符串键映射转成 map[string]any。
func normalizeYAML(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			n, err := normalizeYAML(x)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("config: yaml: non-string key %v", k)
			}
			n, err := normalizeYAML(x)
			if err != nil {
				return nil, err
			}
			out[ks] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			n, err := normalizeYAML(x)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

// LoadDotEnv 加载 .env 文件到进程环境（已存在的变量不覆盖）。
// 文件不存在不算错误。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: dotenv %s: %w", p, err)
		}
	}
	return nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	// 顶层
	if s := strings.TrimSpace(over.Source); s != "" {
		out.Source = s
	}
	if len(over.Targets) > 0 {
		out.Targets = cloneStrings(over.Targets)
	}
	if s := strings.TrimSpace(over.SourceLanguage); s != "" {
		out.SourceLanguage = s
	}
	if s := strings.TrimSpace(over.TargetLanguage); s != "" {
		out.TargetLanguage = s
	}
	if over.FillOptions != (FillOptions{}) {
		out.FillOptions = over.FillOptions
	}
	if over.KeepExtraKeys {
		out.KeepExtraKeys = true
	}
	if over.CopySource {
		out.CopySource = true
	}
	if over.FileConcurrency != 0 {
		out.FileConcurrency = over.FileConcurrency
	}
	if over.CacheSize != 0 {
		out.CacheSize = over.CacheSize
	}
	if over.MaxTokens != 0 {
		out.MaxTokens = over.MaxTokens
	}
	if over.BytesPerToken != 0 {
		out.BytesPerToken = over.BytesPerToken
	}
	if over.Indent != "" {
		out.Indent = over.Indent
	}
	if over.ReportName != "" {
		out.ReportName = over.ReportName
	}

	// Dispatch（逐字段）
	if over.Dispatch.BatchSize != 0 {
		out.Dispatch.BatchSize = over.Dispatch.BatchSize
	}
	if over.Dispatch.Concurrency != 0 {
		out.Dispatch.Concurrency = over.Dispatch.Concurrency
	}
	// MaxRetries 的 0 具有语义（禁用重试），以指针区分“未覆盖”。
	if over.Dispatch.MaxRetries != nil {
		n := *over.Dispatch.MaxRetries
		out.Dispatch.MaxRetries = &n
	}
	if over.Dispatch.BackoffMS != 0 {
		out.Dispatch.BackoffMS = over.Dispatch.BackoffMS
	}
	if over.Dispatch.CallTimeoutSeconds != 0 {
		out.Dispatch.CallTimeoutSeconds = over.Dispatch.CallTimeoutSeconds
	}

	// Logging（仅 level）
	if strings.TrimSpace(over.Logging.Level) != "" {
		out.Logging.Level = strings.TrimSpace(over.Logging.Level)
	}

	// 填充器与限额
	if strings.TrimSpace(over.Filler) != "" {
		out.Filler = strings.TrimSpace(over.Filler)
	}
	if over.Limits != (Limits{}) {
		out.Limits = over.Limits
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if over.Components.Reporter != "" {
		out.Components.Reporter = over.Components.Reporter
	}
	if over.Components.PromptBuilder != "" {
		out.Components.PromptBuilder = over.Components.PromptBuilder
	}
	if over.Components.Decoder != "" {
		out.Components.Decoder = over.Components.Decoder
	}

	// Provider（同名逐字段覆盖：ENV 只设限额时保留文件中的 client/options）
	if len(over.Provider) > 0 {
		merged := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			merged[k] = v
		}
		for k, v := range over.Provider {
			merged[k] = mergeProvider(merged[k], v)
		}
		out.Provider = merged
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Reporter) > 0 {
		out.Options.Reporter = cloneRaw(over.Options.Reporter)
	}
	if len(over.Options.PromptBuilder) > 0 {
		out.Options.PromptBuilder = cloneRaw(over.Options.PromptBuilder)
	}
	if len(over.Options.Decoder) > 0 {
		out.Options.Decoder = cloneRaw(over.Options.Decoder)
	}
	if len(over.Options.Filler) > 0 {
		out.Options.Filler = cloneRaw(over.Options.Filler)
	}

	// LLM 名称
	if strings.TrimSpace(over.LLM) != "" {
		out.LLM = strings.TrimSpace(over.LLM)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 CATFIX_；空值与集合之外的键忽略；数值解析失败返回错误。
// 支持：SOURCE, TARGETS, SOURCE_LANGUAGE, TARGET_LANGUAGE, FILLER, LLM, CONCURRENCY,
// BATCH_SIZE, MAX_RETRIES, FILE_CONCURRENCY, MAX_TOKENS, CACHE_SIZE, LOG_LEVEL, COMPONENTS_*
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,EPM,MAX_ENTRIES_PER_REQ} / PROVIDER__<name>__OPTIONS_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	prov := map[string]Provider{}
	num := func(key, val string, dst *int) error {
		v, err := atoi(val)
		if err != nil {
			return fmt.Errorf("config: env %s%s=%q: not an integer", EnvPrefix, key, val)
		}
		*dst = v
		return nil
	}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk, val := kv[len(EnvPrefix):eq], kv[eq+1:]
		// 空值视为未设置（.env 模板中的占位项）
		if strings.TrimSpace(val) == "" {
			continue
		}
		var err error
		switch nk {
		case "SOURCE":
			over.Source = strings.TrimSpace(val)
		case "TARGETS":
			over.Targets = splitComma(val)
		case "SOURCE_LANGUAGE":
			over.SourceLanguage = strings.TrimSpace(val)
		case "TARGET_LANGUAGE":
			over.TargetLanguage = strings.TrimSpace(val)
		case "FILLER":
			over.Filler = strings.TrimSpace(val)
		case "LLM":
			over.LLM = strings.TrimSpace(val)
		case "CONCURRENCY":
			err = num(nk, val, &over.Dispatch.Concurrency)
		case "BATCH_SIZE":
			err = num(nk, val, &over.Dispatch.BatchSize)
		case "MAX_RETRIES":
			var n int
			if err = num(nk, val, &n); err == nil {
				over.Dispatch.MaxRetries = &n
			}
		case "FILE_CONCURRENCY":
			err = num(nk, val, &over.FileConcurrency)
		case "MAX_TOKENS":
			err = num(nk, val, &over.MaxTokens)
		case "CACHE_SIZE":
			err = num(nk, val, &over.CacheSize)
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "COMPONENTS_READER":
			over.Components.Reader = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		case "COMPONENTS_REPORTER":
			over.Components.Reporter = strings.TrimSpace(val)
		case "COMPONENTS_PROMPT_BUILDER":
			over.Components.PromptBuilder = strings.TrimSpace(val)
		case "COMPONENTS_DECODER":
			over.Components.Decoder = strings.TrimSpace(val)
		default:
			// provider.* 路径：PROVIDER__name__FOO
			if strings.HasPrefix(nk, "PROVIDER__") {
				err = overlayProvider(prov, nk, val)
			}
		}
		if err != nil {
			return Config{}, err
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

func overlayProvider(prov map[string]Provider, nk, val string) error {
	parts := strings.Split(nk, "__")
	if len(parts) < 3 || strings.TrimSpace(parts[1]) == "" {
		return nil
	}
	name := strings.TrimSpace(parts[1])
	field := strings.Join(parts[2:], "__")
	p := prov[name]
	changed := false
	limit := func(dst *int) error {
		v, err := atoi(val)
		if err != nil {
			return fmt.Errorf("config: env %s%s=%q: not an integer", EnvPrefix, nk, val)
		}
		*dst, changed = v, true
		return nil
	}
	var err error
	switch field {
	case "CLIENT":
		if tv := strings.TrimSpace(val); tv != "" {
			p.Client, changed = tv, true
		}
	case "LIMITS_RPM":
		err = limit(&p.Limits.RPM)
	case "LIMITS_EPM":
		err = limit(&p.Limits.EPM)
	case "LIMITS_MAX_ENTRIES_PER_REQ":
		err = limit(&p.Limits.MaxEntriesPerReq)
	case "OPTIONS_JSON":
		// 原样 JSON；空值视为未设置，避免清空现有配置
		if tv := strings.TrimSpace(val); tv != "" {
			if !json.Valid([]byte(tv)) {
				return fmt.Errorf("config: env %s%s: invalid JSON", EnvPrefix, nk)
			}
			p.Options, changed = json.RawMessage(tv), true
		}
	}
	if err != nil {
		return err
	}
	// 仅在发生有效变更时记录该 provider；避免空值覆盖配置文件
	if changed {
		prov[name] = p
	}
	return nil
}

func mergeProvider(base, over Provider) Provider {
	out := base
	if over.Client != "" {
		out.Client = over.Client
	}
	if len(over.Options) > 0 {
		out.Options = cloneRaw(over.Options)
	}
	if over.Limits.RPM != 0 {
		out.Limits.RPM = over.Limits.RPM
	}
	if over.Limits.EPM != 0 {
		out.Limits.EPM = over.Limits.EPM
	}
	if over.Limits.MaxEntriesPerReq != 0 {
		out.Limits.MaxEntriesPerReq = over.Limits.MaxEntriesPerReq
	}
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
