package classify

import "github.com/drivercheck/drivercheck-bot/internal/taxonomy"

// RawResult is an unvalidated classification as returned by a model.
type RawResult struct {
	CategoryID string   `json:"categoryId"`
	Tags       []string `json:"tags"`
}

// Result is a classification that satisfies the taxonomy: the category exists, every
// tag belongs to it, and the fallback category carries no tags.
type Result struct {
	CategoryID string   `json:"categoryId"`
	Tags       []string `json:"tags"`
}

// Raw re-wraps a result as raw model output.
func (r Result) Raw() RawResult {
	return RawResult{CategoryID: r.CategoryID, Tags: append([]string(nil), r.Tags...)}
}

// Sanitizer forces untrusted model output into the taxonomy.
type Sanitizer struct {
	index *taxonomy.Index
}

// NewSanitizer creates a sanitizer for the given taxonomy.
func NewSanitizer(index *taxonomy.Index) *Sanitizer {
	return &Sanitizer{index: index}
}

// Sanitize never fails. Unknown categories collapse to the fallback with no tags; tags
// outside the chosen category are dropped while the order of the rest is kept.
func (s *Sanitizer) Sanitize(raw RawResult) Result {
	fallback := s.index.Fallback()
	if !s.index.IsValidCategory(raw.CategoryID) || raw.CategoryID == fallback {
		return s.Fallback()
	}

	tags := make([]string, 0, len(raw.Tags))
	seen := make(map[string]bool, len(raw.Tags))
	for _, t := range raw.Tags {
		if seen[t] || !s.index.IsValidTag(raw.CategoryID, t) {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}

	return Result{CategoryID: raw.CategoryID, Tags: tags}
}

// Fallback returns the fallback category with no tags.
func (s *Sanitizer) Fallback() Result {
	return Result{CategoryID: s.index.Fallback(), Tags: []string{}}
}
