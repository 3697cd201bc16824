// Package cost maps token and call counts onto USD using static rate tables.
package cost

import (
	"strings"

	"github.com/sells-group/research-agent/internal/model"
)

// Provider names accepted by Calculator.Model.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Tool names with a price. Anything else is free.
const (
	ToolSearch     = "search"
	ToolJinaSearch = "jina_search"
	ToolFetchPage  = "fetch_page"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     map[string]ModelRate `yaml:"gemini" mapstructure:"gemini"`
	Jina       JinaRate             `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// JinaRate holds Jina pricing.
type JinaRate struct {
	PerMTok   float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
	PerSearch float64 `yaml:"per_search" mapstructure:"per_search"`
}

// PerplexityRate holds Perplexity pricing. Sonar models bill a request fee
// on top of token usage.
type PerplexityRate struct {
	PerQuery      float64 `yaml:"per_query" mapstructure:"per_query"`
	InputPerMTok  float64 `yaml:"input_per_mtok" mapstructure:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" mapstructure:"output_per_mtok"`
}

// Calculator computes costs for API usage. It owns a private copy of the
// rate tables.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with a copy of the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: Rates{
		Anthropic:  copyRates(rates.Anthropic),
		Gemini:     copyRates(rates.Gemini),
		Jina:       rates.Jina,
		Perplexity: rates.Perplexity,
	}}
}

func copyRates(in map[string]ModelRate) map[string]ModelRate {
	out := make(map[string]ModelRate, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Model computes the cost of model usage for the given provider.
func (c *Calculator) Model(provider, modelName string, u model.TokenUsage) float64 {
	switch provider {
	case ProviderGemini:
		return c.Gemini(modelName, u.InputTokens, u.OutputTokens)
	default:
		return c.Claude(modelName, u.InputTokens, u.OutputTokens, u.CacheCreationTokens, u.CacheReadTokens)
	}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(modelName string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := lookup(c.rates.Anthropic, modelName)
	if !ok {
		return 0
	}
	inCost := perMTok(input, rate.Input)
	outCost := perMTok(output, rate.Output)
	cwCost := perMTok(cacheWrite, rate.Input*rate.CacheWriteMul)
	crCost := perMTok(cacheRead, rate.Input*rate.CacheReadMul)
	return inCost + outCost + cwCost + crCost
}

// Gemini computes the cost for a Gemini API call.
func (c *Calculator) Gemini(modelName string, input, output int) float64 {
	rate, ok := lookup(c.rates.Gemini, modelName)
	if !ok {
		return 0
	}
	return perMTok(input, rate.Input) + perMTok(output, rate.Output)
}

// Perplexity computes the cost of one Perplexity search.
func (c *Calculator) Perplexity(input, output int) float64 {
	r := c.rates.Perplexity
	return r.PerQuery + perMTok(input, r.InputPerMTok) + perMTok(output, r.OutputPerMTok)
}

// Jina computes the cost for Jina token usage plus any flat search fee.
func (c *Calculator) Jina(tokens int, search bool) float64 {
	total := perMTok(tokens, c.rates.Jina.PerMTok)
	if search {
		total += c.rates.Jina.PerSearch
	}
	return total
}

// Tool prices one uncached tool call by tool name. Input and output are
// provider-reported token counts, zero when the provider reports none.
func (c *Calculator) Tool(name string, input, output int) float64 {
	switch name {
	case ToolSearch:
		return c.Perplexity(input, output)
	case ToolJinaSearch:
		return c.Jina(input+output, true)
	default:
		return 0
	}
}

func perMTok(tokens int, rate float64) float64 {
	return (float64(tokens) / 1e6) * rate
}

// lookup matches a model exactly, then by the longest table key that
// prefixes it, so dated snapshots inherit their family's rate.
func lookup(table map[string]ModelRate, modelName string) (ModelRate, bool) {
	if r, ok := table[modelName]; ok {
		return r, true
	}
	best, found := "", false
	for k := range table {
		if strings.HasPrefix(modelName, k) && len(k) > len(best) {
			best, found = k, true
		}
	}
	if !found {
		return ModelRate{}, false
	}
	return table[best], true
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5": {
				Input: 1.00, Output: 5.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5": {
				Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Gemini: map[string]ModelRate{
			"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
			"gemini-2.5-pro":   {Input: 1.25, Output: 10.00},
		},
		Jina:       JinaRate{PerMTok: 0.02},
		Perplexity: PerplexityRate{PerQuery: 0.005, InputPerMTok: 3.00, OutputPerMTok: 15.00},
	}
}
