package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "catfix/internal/config"
)

func (a *app) initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-config [dir]",
		Short: "Write a default config file and a .env template (existing files are kept)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			a.exit = a.initConfig(dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&a.initFormat, "format", "json", "配置格式 json|yaml")
	return cmd
}

func (a *app) initConfig(dir string) int {
	var (
		name   string
		render func(cfgpkg.Config) ([]byte, error)
	)
	switch strings.ToLower(a.initFormat) {
	case "json":
		name, render = "config.json", cfgpkg.RenderJSON
	case "yaml", "yml":
		name, render = "config.yaml", cfgpkg.RenderYAML
	default:
		fprintf(a.stderr, "生成默认配置失败: 未知格式 %q\n", a.initFormat)
		return exitConfig
	}
	if dir != "-" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fprintf(a.stderr, "生成默认配置失败: %v\n", err)
			return exitConfig
		}
	}
	b, err := render(cfgpkg.DefaultTemplateConfig())
	if err != nil {
		fprintf(a.stderr, "生成默认配置失败: %v\n", err)
		return exitConfig
	}
	if dir == "-" {
		_, _ = a.stdout.Write(b)
		return exitOK
	}
	cfgPath := filepath.Join(dir, name)
	switch err := writeNew(cfgPath, b); {
	case errors.Is(err, os.ErrExist):
		fprintf(a.stderr, "已存在，跳过: %s\n", cfgPath)
	case err != nil:
		fprintf(a.stderr, "生成默认配置失败: %v\n", err)
		return exitConfig
	default:
		fprintf(a.stdout, "已生成: %s\n", cfgPath)
	}
	// .env 模板失败不影响退出码
	envPath := filepath.Join(dir, ".env")
	if err := writeNew(envPath, []byte(dotEnvTemplate())); err != nil && !errors.Is(err, os.ErrExist) {
		fprintf(a.stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return exitOK
}

// writeNew 仅创建新文件；已存在时返回 os.ErrExist。
func writeNew(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// dotEnvTemplate: 列出支持的覆盖项与常见凭据。空值表示未设置。
func dotEnvTemplate() string {
	var b strings.Builder
	b.WriteString("# catfix .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString("# 空值表示未设置；按需填写。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	b.WriteString("CATFIX_CONFIG_FILE=\n")
	b.WriteString("CATFIX_CONFIG_JSON=\n\n")

	b.WriteString("# 运行参数覆盖\n")
	for _, k := range []string{
		"SOURCE", "TARGETS", "SOURCE_LANGUAGE", "TARGET_LANGUAGE", "FILLER", "LLM",
		"CONCURRENCY", "BATCH_SIZE", "MAX_RETRIES", "FILE_CONCURRENCY", "MAX_TOKENS", "CACHE_SIZE", "LOG_LEVEL",
	} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 组件选择\n")
	for _, k := range []string{"READER", "WRITER", "REPORTER", "PROMPT_BUILDER", "DECODER"} {
		b.WriteString(cfgpkg.EnvPrefix + "COMPONENTS_" + k + "=\n")
	}
	for _, p := range []string{"openai", "gemini"} {
		fmt.Fprintf(&b, "\n# Provider 覆盖（%s）\n", p)
		for _, f := range []string{"CLIENT", "LIMITS_RPM", "LIMITS_EPM", "LIMITS_MAX_ENTRIES_PER_REQ", "OPTIONS_JSON"} {
			fmt.Fprintf(&b, "%sPROVIDER__%s__%s=\n", cfgpkg.EnvPrefix, p, f)
		}
	}
	b.WriteString("\n# 凭据（由各插件直接读取，不经 CATFIX_ 覆盖规则）\n")
	b.WriteString("OPENAI_API_KEY=\n")
	b.WriteString("GOOGLE_API_KEY=\n")
	b.WriteString("CATFIX_S3_ACCESS_KEY=\n")
	b.WriteString("CATFIX_S3_SECRET_KEY=\n")
	return b.String()
}
