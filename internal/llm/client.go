// Package llm provides the model client used by the planner, extractor,
// scorer, and verifier, plus retry and JSON-recovery helpers for working
// with model output.
package llm

import "context"

// Client defines the minimal interface components use to call a model.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Metered is implemented by clients that track cumulative spend.
type Metered interface {
	TotalCostUSD() float64
}
