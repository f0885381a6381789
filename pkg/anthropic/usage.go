package anthropic

import "go.uber.org/zap"

// TokenUsage is the token accounting of one response.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// price is USD per million tokens.
type price struct {
	input  float64
	output float64
}

const (
	cacheWriteFactor = 1.25
	cacheReadFactor  = 0.1
)

var pricing = map[string]price{
	"claude-haiku-4-5-20251001":  {input: 0.80, output: 4.00},
	"claude-sonnet-4-5-20250929": {input: 3.00, output: 15.00},
	"claude-opus-4-6":            {input: 15.00, output: 75.00},
}

// Cost estimates the USD cost of u under model. Unknown models cost 0.
func (u TokenUsage) Cost(model string) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	perTok := func(n int64, rate float64) float64 { return float64(n) / 1e6 * rate }
	return perTok(u.InputTokens, p.input) +
		perTok(u.OutputTokens, p.output) +
		perTok(u.CacheCreationInputTokens, p.input*cacheWriteFactor) +
		perTok(u.CacheReadInputTokens, p.input*cacheReadFactor)
}

// Log writes token counts and the estimated cost for one call.
func (u TokenUsage) Log(model, phase string) {
	zap.L().Debug("anthropic usage",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.Cost(model)),
	)
}
