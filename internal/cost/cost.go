// Package cost prices LLM usage. The calculator is pure; accumulation into
// session counters happens at the call sites.
package cost

import "github.com/meridian-ai/meridian/pkg/models"

// Pricing is the dollar price per million tokens.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

var pricing = map[string]Pricing{
	"claude-sonnet-4-20250514":   {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-opus-4-20250514":     {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"claude-3-5-sonnet-20241022": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-3-5-haiku-20241022":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"claude-3-haiku-20240307":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},
}

// fallback covers models missing from the table; priced at the mid tier so
// unknown models never report zero spend.
var fallback = Pricing{InputPerMTok: 3.00, OutputPerMTok: 15.00}

// Calculate returns the dollar cost of one exchange.
func Calculate(model string, usage models.Usage) float64 {
	p, ok := pricing[model]
	if !ok {
		p = fallback
	}
	return float64(usage.InputTokens)/1e6*p.InputPerMTok +
		float64(usage.OutputTokens)/1e6*p.OutputPerMTok
}

// PricingFor returns the table entry for a model and whether it was listed.
func PricingFor(model string) (Pricing, bool) {
	p, ok := pricing[model]
	if !ok {
		return fallback, false
	}
	return p, true
}
