package bot

import (
	"fmt"
	"strings"

	"github.com/lithammer/dedent"

	"github.com/drivercheck/drivercheck-bot/internal/tgtext"
)

func formatReplyText(text string, a ...any) string {
	text = strings.TrimSpace(dedent.Dedent(text))
	if len(a) == 0 {
		return text
	}
	return fmt.Sprintf(text, a...)
}

// parseCommand splits "/cmd@botname arg1 arg2" into "/cmd" and its arguments.
func parseCommand(s string) (string, []string) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return "", nil
	}
	command, _, _ := strings.Cut(parts[0], "@")
	return strings.ToLower(command), parts[1:]
}

// commandArgs returns everything after the command word, untouched.
func commandArgs(s string) string {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t\n")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(s[i+1:])
}

// splitArgs splits "a; b; c" into at most n trimmed parts. The last part keeps any
// further separators, so free text like a comment may contain semicolons.
func splitArgs(s string, n int) []string {
	parts := strings.SplitN(s, ";", n)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func bulletList(items []string) string {
	var sb strings.Builder
	for _, it := range items {
		sb.WriteString("• ")
		sb.WriteString(tgtext.EscapeMarkdown(it))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
