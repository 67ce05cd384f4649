package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/drivercheck/drivercheck-bot/internal/classify"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash-lite"

const providerName = "gemini"

// Gemini pricing (per million tokens)
var modelPrices = map[string]struct{ input, output float64 }{
	"gemini-2.5-flash-lite":  {0.10, 0.40},
	"gemini-2.5-flash":       {0.30, 2.50},
	"gemini-3-flash-preview": {0.50, 3.00},
}

// generator is the part of the genai client the classifier uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClassifier classifies prompts with Google's Gemini API.
type GeminiClassifier struct {
	models generator
	model  string
}

// NewGeminiClassifier creates a classifier authenticated with apiKey.
// An empty model selects DefaultModel.
func NewGeminiClassifier(ctx context.Context, apiKey, model string) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return newGeminiClassifier(client.Models, model), nil
}

func newGeminiClassifier(models generator, model string) *GeminiClassifier {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClassifier{models: models, model: model}
}

// Model returns the model name used for requests.
func (g *GeminiClassifier) Model() string {
	return g.model
}

// classificationSchema forces a {categoryId, tags} object.
var classificationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"categoryId": {
			Type:        genai.TypeString,
			Description: "Exactly one category id from the list in the prompt.",
		},
		"tags": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: "Tag ids allowed for the chosen category. Empty for the fallback category.",
		},
	},
	Required:         []string{"categoryId", "tags"},
	PropertyOrdering: []string{"categoryId", "tags"},
}

// Classify sends one prompt and returns the model's raw answer. It never retries.
// Quota and rate-limit refusals come back as *classify.QuotaExceededError, every other
// failure as *classify.ProviderError.
func (g *GeminiClassifier) Classify(ctx context.Context, prompt string) (classify.RawResult, error) {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   classificationSchema,
	}

	result, err := g.models.GenerateContent(ctx, g.model, []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
	}, config)
	if err != nil {
		return classify.RawResult{}, mapError(err)
	}

	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return classify.RawResult{}, &classify.ProviderError{Provider: providerName, Err: errors.New("empty response from gemini")}
	}

	text := result.Text()
	log.Debug().Str("response", text).Msg("classification llm output")

	raw, err := parseRawResult(text)
	if err != nil {
		return classify.RawResult{}, &classify.ProviderError{Provider: providerName, Err: err}
	}

	if result.UsageMetadata != nil {
		usage := newUsage(g.model, result.UsageMetadata)
		log.Info().
			Str("model", g.model).
			Int64("inputTokens", usage.InputTokens).
			Int64("outputTokens", usage.OutputTokens).
			Float64("costUSD", usage.CostUSD).
			Str("categoryId", raw.CategoryID).
			Msg("classification llm call")
	}

	return raw, nil
}

// mapError sorts a genai failure into the classification error taxonomy.
func mapError(err error) error {
	if apiErr, ok := asAPIError(err); ok {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return &classify.QuotaExceededError{Provider: providerName, Err: err}
		}
	}
	return &classify.ProviderError{Provider: providerName, Err: err}
}

func asAPIError(err error) (genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return value, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return genai.APIError{}, false
}

func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response: %s", text)
	}
	return text[start : end+1], nil
}

// parseRawResult reads the model answer. Structured output is plain JSON, but models
// sometimes wrap it in a code fence, so the object is extracted first.
func parseRawResult(text string) (classify.RawResult, error) {
	jsonStr, err := extractJSONObject(text)
	if err != nil {
		return classify.RawResult{}, err
	}

	var raw classify.RawResult
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return classify.RawResult{}, fmt.Errorf("failed to parse classification json: %w (response: %s)", err, jsonStr)
	}
	if raw.Tags == nil {
		raw.Tags = []string{}
	}
	return raw, nil
}
