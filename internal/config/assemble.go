package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"catfix/internal/cache"
	"catfix/internal/dispatch"
	"catfix/internal/pipeline"
	"catfix/internal/rate"
	"catfix/pkg/contract"
	"catfix/pkg/registry"
	fllm "catfix/plugins/filler/llm"
)

// Validate 对最小必要边界做静态校验；mode 决定哪些组件是必需的。
func Validate(cfg Config, mode pipeline.Mode) error {
	switch mode {
	case pipeline.ModeTranslate, pipeline.ModeFix, pipeline.ModeDiff:
	default:
		return fmt.Errorf("config: unknown mode %q", mode)
	}
	if strings.TrimSpace(cfg.Source) == "" {
		return errors.New("config: source not set")
	}
	if len(cfg.Targets) == 0 {
		return errors.New("config: targets empty")
	}
	// 目标路径不得为空；"-"（STDIN）无处写回，仅 diff 模式允许且不能与其他根混用
	dash := false
	for _, t := range cfg.Targets {
		switch strings.TrimSpace(t) {
		case "":
			return errors.New("config: target path cannot be empty")
		case "-":
			dash = true
		}
	}
	if dash && (mode != pipeline.ModeDiff || len(cfg.Targets) > 1) {
		return errors.New("config: '-' target is only allowed alone in diff mode")
	}
	if dash && strings.TrimSpace(cfg.Source) == "-" {
		return errors.New("config: source and target cannot both be '-'")
	}
	if cfg.FileConcurrency < 0 {
		return errors.New("config: file_concurrency must be >= 0")
	}
	if cfg.Dispatch.BatchSize < 0 || cfg.Dispatch.Concurrency < 0 {
		return errors.New("config: dispatch.batch_size and dispatch.concurrency must be >= 0")
	}
	if cfg.Dispatch.MaxRetries != nil && *cfg.Dispatch.MaxRetries < 0 {
		return errors.New("config: dispatch.max_retries must be >= 0")
	}
	if cfg.Dispatch.BackoffMS < 0 || cfg.Dispatch.CallTimeoutSeconds < 0 {
		return errors.New("config: dispatch.backoff_ms and dispatch.call_timeout_seconds must be >= 0")
	}
	if cfg.MaxTokens < 0 || cfg.BytesPerToken < 0 {
		return errors.New("config: max_tokens and bytes_per_token must be >= 0")
	}
	if strings.Trim(cfg.Indent, " \t") != "" {
		return errors.New("config: indent may only contain spaces and tabs")
	}

	d := Defaults().Components
	if name := effName(cfg.Components.Reader, d.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if mode != pipeline.ModeDiff {
		if name := effName(cfg.Components.Writer, d.Writer); registry.Writer[name] == nil {
			return fmt.Errorf("config: writer %q not registered", name)
		}
		if name := effName(cfg.Components.Reporter, d.Reporter); name != ReporterNone && registry.Reporter[name] == nil {
			return fmt.Errorf("config: reporter %q not registered", name)
		}
	}
	if mode != pipeline.ModeTranslate {
		return nil
	}
	return validateFiller(cfg)
}

func validateFiller(cfg Config) error {
	batch := cfg.Dispatch.BatchSize
	if batch == 0 {
		batch = dispatch.DefaultBatchSize
	}
	switch fn := effName(cfg.Filler, FillerLLM); fn {
	case FillerNone:
		return nil
	case FillerLLM:
		if cfg.LLM == "" {
			return errors.New("config: llm not set")
		}
		prov, ok := cfg.Provider[cfg.LLM]
		if !ok {
			return fmt.Errorf("config: provider %q not found", cfg.LLM)
		}
		if prov.Client == "" {
			return fmt.Errorf("config: provider %q missing client", cfg.LLM)
		}
		if registry.LLMClient[prov.Client] == nil {
			return fmt.Errorf("config: llm client %q not registered", prov.Client)
		}
		d := Defaults().Components
		if name := effName(cfg.Components.PromptBuilder, d.PromptBuilder); registry.PromptBuilder[name] == nil {
			return fmt.Errorf("config: prompt_builder %q not registered", name)
		}
		if name := effName(cfg.Components.Decoder, d.Decoder); registry.Decoder[name] == nil {
			return fmt.Errorf("config: decoder %q not registered", name)
		}
		if m := prov.Limits.MaxEntriesPerReq; m > 0 && batch > m {
			return fmt.Errorf("config: batch_size(%d) exceeds provider.max_entries_per_req(%d)", batch, m)
		}
	default:
		if registry.Filler[fn] == nil {
			return fmt.Errorf("config: filler %q not registered", fn)
		}
		if m := cfg.Limits.MaxEntriesPerReq; m > 0 && batch > m {
			return fmt.Errorf("config: batch_size(%d) exceeds limits.max_entries_per_req(%d)", batch, m)
		}
	}
	return nil
}

// Assemble 校验后构造 Components 与 Settings（含限流 Gate 与缓存）。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config, mode pipeline.Mode) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg, mode); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults().Components
	var comp pipeline.Components

	r, err := registry.Reader[effName(cfg.Components.Reader, d.Reader)](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	comp.Reader = r
	if mode != pipeline.ModeDiff {
		w, err := registry.Writer[effName(cfg.Components.Writer, d.Writer)](cfg.Options.Writer)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, err
		}
		comp.Writer = w
		if rn := effName(cfg.Components.Reporter, d.Reporter); rn != ReporterNone {
			rp, err := registry.Reporter[rn](cfg.Options.Reporter)
			if err != nil {
				return pipeline.Components{}, pipeline.Settings{}, err
			}
			comp.Reporter = rp
		}
	}

	dcfg := dispatchConfig(cfg.Dispatch)
	if mode == pipeline.ModeTranslate {
		f, key, lim, err := buildFiller(cfg)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, err
		}
		if f != nil {
			comp.Filler = f
			dcfg.Gate = rate.NewGate(map[rate.LimitKey]rate.Limits{key: lim}, nil)
			dcfg.GateKey = key
		}
	}

	var fc *cache.FillCache
	if mode == pipeline.ModeTranslate && comp.Filler != nil && cfg.CacheSize >= 0 {
		if fc, err = cache.New(cfg.CacheSize); err != nil {
			return pipeline.Components{}, pipeline.Settings{}, err
		}
	}

	set := pipeline.Settings{
		Mode:            mode,
		Source:          strings.TrimSpace(cfg.Source),
		Targets:         cloneStrings(cfg.Targets),
		SourceLanguage:  cfg.SourceLanguage,
		TargetLanguage:  cfg.TargetLanguage,
		Options:         cfg.FillOptions.contract(),
		KeepExtraKeys:   cfg.KeepExtraKeys,
		CopySource:      cfg.CopySource,
		Dispatch:        dcfg,
		FileConcurrency: cfg.FileConcurrency,
		Cache:           fc,
		Indent:          cfg.Indent,
		ReportName:      cfg.ReportName,
	}
	return comp, set, nil
}

// FillerLabel 返回用于展示的填充器名（llm 时带 provider）。
func FillerLabel(cfg Config) string {
	fn := effName(cfg.Filler, FillerLLM)
	if fn == FillerLLM && cfg.LLM != "" {
		return fn + ":" + cfg.LLM
	}
	return fn
}

func dispatchConfig(c Dispatch) dispatch.Config {
	out := dispatch.DefaultConfig()
	if c.BatchSize > 0 {
		out.BatchSize = c.BatchSize
	}
	if c.Concurrency > 0 {
		out.Concurrency = c.Concurrency
	}
	if c.MaxRetries != nil {
		out.MaxRetries = *c.MaxRetries
	}
	if c.BackoffMS > 0 {
		out.Backoff = time.Duration(c.BackoffMS) * time.Millisecond
	}
	if c.CallTimeoutSeconds > 0 {
		out.CallTimeout = time.Duration(c.CallTimeoutSeconds) * time.Second
	}
	return out
}

// buildFiller 按 filler 名构造填充器与限流分组。
// 分组键默认由凭据派生（共享凭据即共享额度）；派生失败退化为填充器名。
func buildFiller(cfg Config) (contract.Filler, rate.LimitKey, rate.Limits, error) {
	switch fn := effName(cfg.Filler, FillerLLM); fn {
	case FillerNone:
		return nil, "", rate.Limits{}, nil
	case FillerLLM:
		d := Defaults().Components
		pb, err := registry.PromptBuilder[effName(cfg.Components.PromptBuilder, d.PromptBuilder)](cfg.Options.PromptBuilder)
		if err != nil {
			return nil, "", rate.Limits{}, err
		}
		dec, err := registry.Decoder[effName(cfg.Components.Decoder, d.Decoder)](cfg.Options.Decoder)
		if err != nil {
			return nil, "", rate.Limits{}, err
		}
		prov := cfg.Provider[cfg.LLM]
		client, err := registry.LLMClient[prov.Client](prov.Options)
		if err != nil {
			return nil, "", rate.Limits{}, err
		}
		f, err := fllm.New(pb, client, dec, fllm.Options{MaxTokens: cfg.MaxTokens, BytesPerToken: cfg.BytesPerToken})
		if err != nil {
			return nil, "", rate.Limits{}, err
		}
		key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, prov.Options)
		if derr != nil {
			key = rate.LimitKey(FillerLLM + ":" + cfg.LLM)
		}
		return f, key, toRate(prov.Limits), nil
	default:
		f, err := registry.Filler[fn](cfg.Options.Filler)
		if err != nil {
			return nil, "", rate.Limits{}, err
		}
		key, derr := rate.DeriveKeyFromProviderOptions(fn, cfg.Options.Filler)
		if derr != nil {
			key = rate.LimitKey(fn)
		}
		return f, key, toRate(cfg.Limits), nil
	}
}

func toRate(l Limits) rate.Limits {
	return rate.Limits{RPM: l.RPM, EPM: l.EPM, MaxEntriesPerReq: l.MaxEntriesPerReq}
}

func effName(got, def string) string {
	if got = strings.TrimSpace(got); got == "" {
		return def
	}
	return got
}
