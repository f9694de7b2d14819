package llm

import "strings"

// RenderPrompt flattens a message sequence into a single completion prompt for
// backends without a native chat endpoint. The trailing assistant header cues
// the model to answer the last user turn.
func RenderPrompt(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString("<|")
		b.WriteString(string(m.Role))
		b.WriteString("|>\n")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("<|")
	b.WriteString(string(RoleAssistant))
	b.WriteString("|>\n")
	return b.String()
}

// StopWords are the role headers that end an assistant turn in RenderPrompt output.
func StopWords() []string {
	return []string{"<|" + string(RoleUser) + "|>", "<|" + string(RoleSystem) + "|>"}
}
