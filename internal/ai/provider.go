package ai

import "context"

// Provider is a chat-completion backend used for quiz generation.
type Provider interface {
	Complete(ctx context.Context, model, systemPrompt, prompt string) (string, error)
}
