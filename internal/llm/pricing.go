package llm

import "strings"

// Model pricing in USD per million tokens. Search pricing per 1000
// requests. Values track published vendor rates; unlisted models fall
// back to flash pricing.
var modelPricing = map[string]struct{ input, output float64 }{
	"gemini-2.0-flash-exp": {0.0, 0.0},
	"gemini-1.5-flash":     {0.075, 0.30},
	"gemini-1.5-pro":       {1.25, 5.00},
}

var defaultPricing = struct{ input, output float64 }{0.075, 0.30}

var searchPricing = map[string]float64{
	"perplexity": 5.00,
	"tavily":     8.00,
}

// EstimateTokens approximates token count from text length.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// LLMCost returns the USD cost of one model call.
func LLMCost(model string, inputTokens, outputTokens int) float64 {
	prices := defaultPricing
	for key, p := range modelPricing {
		if strings.Contains(model, key) {
			prices = p
			break
		}
	}
	return float64(inputTokens)/1_000_000*prices.input +
		float64(outputTokens)/1_000_000*prices.output
}

// EstimateCallCost approximates call cost from prompt and response text
// when exact token usage is unavailable.
func EstimateCallCost(model, prompt, response string) float64 {
	return LLMCost(model, EstimateTokens(prompt), EstimateTokens(response))
}

// SearchCost returns the USD cost of search requests against an engine.
func SearchCost(engine string, count int) float64 {
	perK, ok := searchPricing[strings.ToLower(engine)]
	if !ok {
		perK = 5.00
	}
	return float64(count) / 1000 * perK
}
