package jira

import "strings"

// REST v3 takes rich text as Atlassian Document Format. Blank lines split
// paragraphs and single newlines become hard breaks.
func adfDocument(text string) map[string]any {
	content := []any{}
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.Trim(para, "\n")
		if para == "" {
			continue
		}
		nodes := []any{}
		for i, line := range strings.Split(para, "\n") {
			if i > 0 {
				nodes = append(nodes, map[string]any{"type": "hardBreak"})
			}
			if line != "" {
				nodes = append(nodes, map[string]any{"type": "text", "text": line})
			}
		}
		content = append(content, map[string]any{"type": "paragraph", "content": nodes})
	}
	return map[string]any{"type": "doc", "version": 1, "content": content}
}

// adfText flattens an ADF node back to plain text.
func adfText(node any) string {
	var b strings.Builder
	writeADF(&b, node)
	return strings.TrimRight(b.String(), "\n")
}

func writeADF(b *strings.Builder, node any) {
	switch n := node.(type) {
	case string:
		b.WriteString(n)
	case map[string]any:
		switch n["type"] {
		case "text":
			text, _ := n["text"].(string)
			b.WriteString(text)
			return
		case "hardBreak":
			b.WriteString("\n")
			return
		}
		if children, ok := n["content"].([]any); ok {
			for _, child := range children {
				writeADF(b, child)
			}
		}
		if n["type"] == "paragraph" {
			b.WriteString("\n\n")
		}
	}
}
