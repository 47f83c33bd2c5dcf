package billing

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/vnmchuo/modelgate/internal/llmconfig"
	"github.com/vnmchuo/modelgate/internal/provider"
)

// ErrUnknownModel is returned when no price is known for a model.
var ErrUnknownModel = errors.New("billing: no pricing for model")

// Pricing is expressed in USD per million tokens.
type Pricing struct {
	InputPer1M       float64
	OutputPer1M      float64
	CachedInputPer1M float64
}

// prices is keyed by model name prefix; the longest matching prefix wins.
var prices = map[string]Pricing{
	"gpt-4o":            {InputPer1M: 2.5, OutputPer1M: 10, CachedInputPer1M: 1.25},
	"gpt-4o-mini":       {InputPer1M: 0.15, OutputPer1M: 0.6, CachedInputPer1M: 0.075},
	"gpt-4.1":           {InputPer1M: 2, OutputPer1M: 8, CachedInputPer1M: 0.5},
	"gpt-4.1-mini":      {InputPer1M: 0.4, OutputPer1M: 1.6, CachedInputPer1M: 0.1},
	"gpt-4.1-nano":      {InputPer1M: 0.1, OutputPer1M: 0.4, CachedInputPer1M: 0.025},
	"gpt-5":             {InputPer1M: 1.25, OutputPer1M: 10, CachedInputPer1M: 0.125},
	"gpt-5-mini":        {InputPer1M: 0.25, OutputPer1M: 2, CachedInputPer1M: 0.025},
	"o1":                {InputPer1M: 15, OutputPer1M: 60, CachedInputPer1M: 7.5},
	"o3":                {InputPer1M: 2, OutputPer1M: 8, CachedInputPer1M: 0.5},
	"o3-mini":           {InputPer1M: 1.1, OutputPer1M: 4.4, CachedInputPer1M: 0.55},
	"o4-mini":           {InputPer1M: 1.1, OutputPer1M: 4.4, CachedInputPer1M: 0.275},
	"gemini-2.0-flash":  {InputPer1M: 0.1, OutputPer1M: 0.4, CachedInputPer1M: 0.025},
	"gemini-2.5-flash":  {InputPer1M: 0.3, OutputPer1M: 2.5, CachedInputPer1M: 0.075},
	"gemini-2.5-pro":    {InputPer1M: 1.25, OutputPer1M: 10, CachedInputPer1M: 0.31},
	"claude-3-5-haiku":  {InputPer1M: 0.8, OutputPer1M: 4, CachedInputPer1M: 0.08},
	"claude-3-7-sonnet": {InputPer1M: 3, OutputPer1M: 15, CachedInputPer1M: 0.3},
	"claude-sonnet-4":   {InputPer1M: 3, OutputPer1M: 15, CachedInputPer1M: 0.3},
	"claude-opus-4":     {InputPer1M: 15, OutputPer1M: 75, CachedInputPer1M: 1.5},
	"deepseek-chat":     {InputPer1M: 0.27, OutputPer1M: 1.1, CachedInputPer1M: 0.07},
	"deepseek-reasoner": {InputPer1M: 0.55, OutputPer1M: 2.19, CachedInputPer1M: 0.14},
}

var pricePrefixes = func() []string {
	keys := make([]string, 0, len(prices))
	for k := range prices {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return keys
}()

// PricingFor returns the table entry for model.
func PricingFor(model string) (Pricing, error) {
	name := strings.ToLower(llmconfig.ModelName(model))
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	for _, prefix := range pricePrefixes {
		if strings.HasPrefix(name, prefix) {
			return prices[prefix], nil
		}
	}
	return Pricing{}, errors.Wrap(ErrUnknownModel, model)
}

// anthropicRate holds per-token rates for the native Anthropic path.
type anthropicRate struct {
	input, output, cacheRead, cacheWrite float64
}

var (
	anthropicDefault = anthropicRate{input: 3e-6, output: 15e-6, cacheRead: 0.3e-6, cacheWrite: 3.75e-6}
	anthropicOpus    = anthropicRate{input: 15e-6, output: 75e-6, cacheRead: 1.5e-6, cacheWrite: 18.75e-6}
	anthropicHaiku   = anthropicRate{input: 0.8e-6, output: 4e-6, cacheRead: 0.08e-6, cacheWrite: 1e-6}
)

func anthropicRateFor(model string) anthropicRate {
	name := strings.ToLower(model)
	switch {
	case strings.Contains(name, "opus"):
		return anthropicOpus
	case strings.Contains(name, "haiku"):
		return anthropicHaiku
	default:
		return anthropicDefault
	}
}

// Cost prices a normalized response. Unknown models yield ErrUnknownModel.
func Cost(resp *provider.Response) (float64, error) {
	if resp == nil {
		return 0, errors.New("billing: nil response")
	}
	u := resp.Usage
	switch resp.CostKind {
	case provider.CostZero:
		return 0, nil
	case provider.CostAnthropic:
		r := anthropicRateFor(resp.Model)
		return float64(u.InputTokens)*r.input +
			float64(u.OutputTokens)*r.output +
			float64(u.CachedTokens)*r.cacheRead +
			float64(u.CacheCreationTokens)*r.cacheWrite, nil
	default:
		p, err := PricingFor(resp.Model)
		if err != nil {
			return 0, err
		}
		uncached := u.InputTokens - u.CachedTokens
		if uncached < 0 {
			uncached = 0
		}
		return (float64(uncached)*p.InputPer1M +
			float64(u.CachedTokens)*p.CachedInputPer1M +
			float64(u.OutputTokens)*p.OutputPer1M) / 1e6, nil
	}
}
