package artifact

import (
	"fmt"
	"sort"
	"strings"
)

// RenderMarkdown serializes an artifact for display. Structured
// documents get a typed renderer; markdown-bodied artifacts pass
// through; anything else renders as a bullet list of its keys.
// The structured form stays the source of truth.
func RenderMarkdown(key string, content any) string {
	switch v := content.(type) {
	case string:
		return v
	case map[string]any:
		if body, ok := v["markdown_body"].(string); ok && len(v) <= 2 {
			return body
		}
		switch key {
		case KeyTestDesignRequirements, KeyReviewIntake:
			if doc, err := DecodeRequirement(v); err == nil {
				return renderRequirement(doc)
			}
		case KeyTestDesignCases:
			if doc, err := DecodeCases(v); err == nil {
				return renderCases(doc)
			}
		}
		return renderGeneric(v)
	default:
		return fmt.Sprintf("%v", content)
	}
}

func renderRequirement(doc *RequirementDoc) string {
	var b strings.Builder

	if len(doc.Scope) > 0 {
		b.WriteString("## 测试范围\n\n")
		for _, s := range doc.Scope {
			fmt.Fprintf(&b, "- %s\n", s)
		}
		b.WriteString("\n")
	}
	if doc.ScopeMermaid != "" {
		fmt.Fprintf(&b, "```mermaid\n%s\n```\n\n", strings.TrimSpace(doc.ScopeMermaid))
	}
	if doc.FlowMermaid != "" {
		b.WriteString("## 主流程\n\n")
		fmt.Fprintf(&b, "```mermaid\n%s\n```\n\n", strings.TrimSpace(doc.FlowMermaid))
	}
	if len(doc.Rules) > 0 {
		b.WriteString("## 业务规则\n\n")
		for _, r := range doc.Rules {
			fmt.Fprintf(&b, "- **%s** %s (%s)\n", r.ID, r.Desc, r.Source)
		}
		b.WriteString("\n")
	}
	if len(doc.Assumptions) > 0 {
		b.WriteString("## 待确认问题\n\n")
		b.WriteString("| ID | 问题 | 状态 | 优先级 | 备注 |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, a := range doc.Assumptions {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				a.ID, a.Question, a.Status, a.Priority, a.Note)
		}
		b.WriteString("\n")
	}
	if doc.NFRMarkdown != "" {
		b.WriteString("## 非功能需求\n\n")
		b.WriteString(strings.TrimSpace(doc.NFRMarkdown))
		b.WriteString("\n\n")
	}
	if len(doc.Features) > 0 {
		b.WriteString("## 功能点\n\n")
		for _, f := range doc.Features {
			fmt.Fprintf(&b, "### %s %s\n\n%s\n\n", f.ID, f.Name, f.Desc)
			for _, ac := range f.Acceptance {
				fmt.Fprintf(&b, "- [ ] %s\n", ac)
			}
			if len(f.Acceptance) > 0 {
				b.WriteString("\n")
			}
		}
	}
	if len(doc.OutOfScope) > 0 {
		b.WriteString("## 不在范围内\n\n")
		for _, s := range doc.OutOfScope {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderCases(doc *CasesDoc) string {
	var b strings.Builder

	if doc.Stats != nil {
		fmt.Fprintf(&b, "共 %d 条用例\n\n", doc.Stats.Total)
	}
	for _, c := range doc.Cases {
		fmt.Fprintf(&b, "### %s %s\n\n", c.ID, c.Title)
		if c.Precondition != "" {
			fmt.Fprintf(&b, "前置条件：%s\n\n", c.Precondition)
		}
		if len(c.Steps) > 0 {
			b.WriteString("| 步骤 | 预期 |\n|---|---|\n")
			for _, s := range c.Steps {
				fmt.Fprintf(&b, "| %s | %s |\n", s.Action, s.Expect)
			}
			b.WriteString("\n")
		}
		if len(c.Tags) > 0 {
			fmt.Fprintf(&b, "标签：%s\n\n", strings.Join(c.Tags, ", "))
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func renderGeneric(content map[string]any) string {
	keys := make([]string, 0, len(content))
	for key := range content {
		if key == DiffKey || key == PrevKey {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&b, "- **%s**: %v\n", key, content[key])
	}
	return b.String()
}
