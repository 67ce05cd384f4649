// Package classify maps free-text incident comments to a category and tags of the
// incident taxonomy.
//
// The model behind Client is untrusted: whatever it answers goes through Sanitizer,
// so callers only ever see results that satisfy the taxonomy.
package classify

import (
	"context"
	"errors"

	"github.com/drivercheck/drivercheck-bot/internal/taxonomy"
	"github.com/rs/zerolog/log"
)

// Client is a generative model that guesses a classification for a prompt.
// Implementations return *QuotaExceededError when the provider signals quota or rate
// exhaustion and *ProviderError for every other failure. They never retry.
type Client interface {
	Classify(ctx context.Context, prompt string) (RawResult, error)
}

// Pipeline turns a comment into a sanitized Result.
type Pipeline struct {
	prompts   *PromptBuilder
	sanitizer *Sanitizer
	client    Client
}

// NewPipeline wires a pipeline for the taxonomy around client.
func NewPipeline(index *taxonomy.Index, client Client) *Pipeline {
	return &Pipeline{
		prompts:   NewPromptBuilder(index),
		sanitizer: NewSanitizer(index),
		client:    client,
	}
}

// Classify classifies one comment. Empty comments return the fallback category without
// calling the model. Errors are always *QuotaExceededError or *ProviderError.
func (p *Pipeline) Classify(ctx context.Context, comment string) (Result, error) {
	prompt, err := p.prompts.Build(comment)
	if errors.Is(err, ErrEmptyInput) {
		return p.sanitizer.Fallback(), nil
	}
	if err != nil {
		return Result{}, &ProviderError{Err: err}
	}

	raw, err := p.client.Classify(ctx, prompt)
	if err != nil {
		var qe *QuotaExceededError
		var pe *ProviderError
		if errors.As(err, &qe) || errors.As(err, &pe) {
			return Result{}, err
		}
		return Result{}, &ProviderError{Err: err}
	}

	result := p.sanitizer.Sanitize(raw)
	if result.CategoryID != raw.CategoryID || len(result.Tags) != len(raw.Tags) {
		log.Debug().
			Str("rawCategory", raw.CategoryID).
			Strs("rawTags", raw.Tags).
			Str("category", result.CategoryID).
			Strs("tags", result.Tags).
			Msg("model output clamped to taxonomy")
	}
	return result, nil
}

// Sanitizer returns the pipeline's sanitizer.
func (p *Pipeline) Sanitizer() *Sanitizer {
	return p.sanitizer
}
