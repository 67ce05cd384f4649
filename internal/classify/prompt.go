package classify

import (
	"fmt"
	"strings"

	"github.com/drivercheck/drivercheck-bot/internal/taxonomy"
	"github.com/lithammer/dedent"
)

const classificationPrompt = `
	You classify incident reports that logistics companies file about truck drivers.
	The comment may be written in any language.

	Rules:
	- Choose exactly one category id from the list below.
	- If you are not certain which category fits, choose "%[1]s".
	- Choose tags only from the allowed tags of the category you selected.
	- If you choose "%[1]s", tags must be an empty list.

	Categories (id: allowed tags):
	%[2]s

	Comment:
	"""
	%[3]s
	"""

	Respond ONLY with a JSON object, no markdown or other text.
	Example: {"categoryId": "fuel_theft", "tags": ["fuel_theft"]}`

// PromptBuilder renders the taxonomy and one comment into a model instruction.
type PromptBuilder struct {
	index *taxonomy.Index
	// Rendered once: the taxonomy never changes after construction.
	categoryList string
}

// NewPromptBuilder creates a builder for the given taxonomy.
func NewPromptBuilder(index *taxonomy.Index) *PromptBuilder {
	var lines []string
	for _, c := range index.Categories() {
		tags := "(no tags)"
		if len(c.AllowedTags) > 0 {
			tags = strings.Join(c.AllowedTags, ", ")
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", c.ID, tags))
	}
	return &PromptBuilder{
		index:        index,
		categoryList: strings.Join(lines, "\n"),
	}
}

// Build returns the prompt for comment. It fails with ErrEmptyInput when the comment
// is empty or whitespace only.
func (b *PromptBuilder) Build(comment string) (string, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return "", ErrEmptyInput
	}
	// Dedent the template before substitution so the comment's own indentation survives.
	tmpl := strings.TrimSpace(dedent.Dedent(classificationPrompt))
	return fmt.Sprintf(tmpl, b.index.Fallback(), b.categoryList, comment), nil
}
