// Package catalog 为“本地化目录补全”构造 ChatPrompt（system+user+json_schema）。
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"os"
	"strings"
	"text/template"

	"catfix/pkg/contract"
)

// Options: system 模板与术语表（均为二选一，inline 优先；都为空时使用内置默认）。
type Options struct {
	InlineSystemTemplate string `json:"inline_system_template"`
	SystemTemplatePath   string `json:"system_template_path"`
	InlineGlossary       string `json:"inline_glossary"`
	GlossaryPath         string `json:"glossary_path"`
}

// Builder: 以 FillRequest 构造 ChatPrompt。模板在构造期解析，运行期不做 I/O。
type Builder struct {
	sysT *template.Template
	glos string
}

// templateData: system 模板可见字段。
type templateData struct {
	SourceLanguage string
	TargetLanguage string
	Options        contract.FillOptions
}

// New 创建目录补全 PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	src := defaultSystemTemplate
	if o.InlineSystemTemplate != "" {
		src = o.InlineSystemTemplate
	} else if o.SystemTemplatePath != "" {
		b, err := os.ReadFile(o.SystemTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("system template read: %w", err)
		}
		src = string(b)
	}
	tpl, err := template.New("system").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("system template parse: %v: %w", err, contract.ErrInvalidInput)
	}
	var glos string
	if o.InlineGlossary != "" {
		glos = o.InlineGlossary
	} else if o.GlossaryPath != "" {
		b, err := os.ReadFile(o.GlossaryPath)
		if err != nil {
			return nil, fmt.Errorf("glossary read: %w", err)
		}
		glos = string(b)
	}
	return &Builder{sysT: tpl, glos: glos}, nil
}

// Build: system（模板+术语表）+ user（条目与输出规则）+ json_schema。
func (b *Builder) Build(ctx context.Context, req contract.FillRequest) (contract.Prompt, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if len(req.Entries) == 0 {
		return nil, fmt.Errorf("prompt: %w: empty entries", contract.ErrInvalidInput)
	}
	sys, err := b.renderSystem(templateData{
		SourceLanguage: langOrAuto(req.SourceLanguage),
		TargetLanguage: req.TargetLanguage,
		Options:        req.Options,
	})
	if err != nil {
		return nil, err
	}

	var uw bytes.Buffer
	uw.Grow(256 + 64*len(req.Entries))
	uw.WriteString("### Entries\n\n<entries>\n")
	for _, e := range req.Entries {
		writeEntry(&uw, e)
	}
	uw.WriteString("</entries>\n")
	writeRules(&uw, req)

	return contract.ChatPrompt([]contract.Message{
		{Role: "system", Content: sys},
		{Role: "user", Content: uw.String()},
		{Role: "json_schema", Content: JSONSchema},
	}), nil
}

// EstimateOverheadTokens: 与条目无关的固定开销（system+glossary+规则+schema）。
func (b *Builder) EstimateOverheadTokens(estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	sys, _ := b.renderSystem(templateData{SourceLanguage: "auto", TargetLanguage: "xx"})
	var fixed bytes.Buffer
	fixed.WriteString("### Entries\n\n<entries>\n</entries>\n")
	writeRules(&fixed, contract.FillRequest{})
	return estimate(sys) + estimate(fixed.String()) + estimate(JSONSchema)
}

func (b *Builder) renderSystem(d templateData) (string, error) {
	var sysBuf bytes.Buffer
	if err := b.sysT.Execute(&sysBuf, d); err != nil {
		return "", fmt.Errorf("system render: %v: %w", err, contract.ErrInvalidInput)
	}
	sys := sysBuf.String()
	if b.glos == "" {
		return sys, nil
	}
	var sb strings.Builder
	sb.Grow(len(sys) + len(b.glos) + 32)
	sb.WriteString(sys)
	sb.WriteString("\n\n<glossary>\n")
	sb.WriteString(b.glos)
	if !strings.HasSuffix(b.glos, "\n") {
		sb.WriteByte('\n')
	}
	sb.WriteString("</glossary>")
	return sb.String(), nil
}

// writeEntry: <entry key="a.b">文本</entry>；键做属性转义，文本原样。
func writeEntry(w *bytes.Buffer, e contract.Entry) {
	w.WriteString("<entry key=\"")
	w.WriteString(html.EscapeString(e.Key))
	w.WriteString("\">")
	w.WriteString(e.Value)
	w.WriteString("</entry>\n")
}

func writeRules(w *bytes.Buffer, req contract.FillRequest) {
	w.WriteString("\nIMPORTANT OUTPUT RULES:\n")
	w.WriteString("1) Translate EVERY entry above; keep each key exactly as given.\n")
	w.WriteString("2) Return ONLY strict JSON (no markdown, no code fences, no commentary).\n")
	w.WriteString("3) Schema: {\"translations\": {\"<key>\": \"<text>\"}}.\n")
	if req.Options.PreservePlaceholders {
		w.WriteString("4) Keep placeholders such as {name}, {{count}}, %s and %d unchanged.\n")
	}
	if req.Options.SkipHTML {
		w.WriteString("5) Keep HTML tags and entities unchanged; translate only the text between them.\n")
	}
	if req.Options.IncludeKeys {
		w.WriteString("6) Keys are dotted paths; use them as context for meaning.\n")
	}
}

func langOrAuto(s string) string {
	if strings.TrimSpace(s) == "" {
		return "auto"
	}
	return s
}

// JSONSchema: 响应结构 {"translations": {key: string}}。
const JSONSchema = `{"type":"object","properties":{"translations":{"type":"object","additionalProperties":{"type":"string"}}},"required":["translations"]}`

const defaultSystemTemplate = `
## Role Definition
You are a professional software localizer. You complete missing entries of a JSON localization catalog.
Translate from {{.SourceLanguage}} into {{.TargetLanguage}}.

## I/O Protocol (Very Important)
- The user message lists <entry key="..."> blocks. Each key is a dotted path inside the catalog.
- Translate the text of every entry. Never rename, add or drop keys.
- If a <glossary> is present, its term mappings MUST take precedence.
- Output ONLY strict JSON according to the schema; do not include markdown/code fences.

<example>
user: <entries>
<entry key="menu.file.open">Open</entry>
<entry key="menu.file.recent.0">Last session</entry>
</entries>

assistant: {"translations": {"menu.file.open": "Ouvrir", "menu.file.recent.0": "Dernière session"}}
</example>
`

var (
	_ contract.PromptBuilder     = (*Builder)(nil)
	_ contract.OverheadEstimator = (*Builder)(nil)
)
