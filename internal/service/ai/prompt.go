package ai

import "strings"

const defaultHistoryLimit = 10

const basePrompt = `You are OneChat, a helpful general-purpose assistant.
Answer clearly and concisely. Use Markdown for code, lists and tables.
If you are unsure about something, say so instead of guessing.`

// BuildSystemPrompt 在基础提示词后追加部署方自定义的指令。
func BuildSystemPrompt(extra string) string {
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return basePrompt
	}

	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\nAdditional instructions:\n")
	b.WriteString(extra)
	return b.String()
}
