// Package rewrite is the deterministic rewrite orchestrator: rule-based
// trigger evaluation over the latest completed evaluation, canonical
// prompt construction, bounded execution around an injected Rewriter
// capability, trend classification, and loop-breaking controls.
package rewrite

import "context"

// Rewriter is the external capability the orchestrator invokes. The core
// supplies a verbatim prompt and expects only the rewritten body back;
// everything around the call (timeout, cycle accounting, trend math) is
// deterministic.
type Rewriter interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// RewriterFunc adapts a function to the Rewriter capability.
type RewriterFunc func(ctx context.Context, prompt string) (string, error)

func (f RewriterFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
