// Package tgtext formats text for Telegram messages sent in Markdown (V1) mode.
package tgtext

import "strings"

var markdownEscaper = strings.NewReplacer(
	"*", "\\*",
	"_", "\\_",
	"`", "\\`",
	"[", "\\[",
)

// EscapeMarkdown escapes the characters Telegram Markdown V1 treats as markup.
func EscapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}

// Truncate shortens s to at most max runes, ending it with "..." when cut.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
