package llm

import "google.golang.org/genai"

// Usage contains token usage and cost information.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
}

func newUsage(model string, md *genai.GenerateContentResponseUsageMetadata) Usage {
	u := Usage{
		InputTokens:  int64(md.PromptTokenCount),
		OutputTokens: int64(md.CandidatesTokenCount),
		TotalTokens:  int64(md.TotalTokenCount),
	}
	price, ok := modelPrices[model]
	if !ok {
		price = modelPrices[DefaultModel]
	}
	u.CostUSD = calculateGeminiCost(u.InputTokens, u.OutputTokens, price.input, price.output)
	return u
}

func calculateGeminiCost(inputTokens, outputTokens int64, inputPrice, outputPrice float64) float64 {
	return float64(inputTokens)/1_000_000*inputPrice + float64(outputTokens)/1_000_000*outputPrice
}
