package provider

// modelRate is the USD price per 1,000 tokens for one model.
type modelRate struct {
	Input  float64
	Output float64
}

// pricing is the static per-model rate table.
var pricing = map[string]modelRate{
	"gpt-4o":                     {Input: 0.0025, Output: 0.01},
	"gpt-4o-mini":                {Input: 0.00015, Output: 0.0006},
	"gpt-4-turbo":                {Input: 0.01, Output: 0.03},
	"claude-sonnet-4-5-20250929": {Input: 0.003, Output: 0.015},
	"claude-3-5-haiku-20241022":  {Input: 0.0008, Output: 0.004},
	"gemini-2.0-flash":           {Input: 0.0001, Output: 0.0004},
	"gemini-1.5-pro":             {Input: 0.00125, Output: 0.005},
}

// defaultRate bills models missing from the table at a conservative
// overestimate, so cost is never silently zero.
var defaultRate = modelRate{Input: 0.01, Output: 0.03}

// Cost computes the USD cost of one call from its token usage.
func Cost(model string, tokensIn, tokensOut int) float64 {
	rate, ok := pricing[model]
	if !ok {
		rate = defaultRate
	}
	return float64(tokensIn)*rate.Input/1000 + float64(tokensOut)*rate.Output/1000
}
