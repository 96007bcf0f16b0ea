package main

import (
	"context"
	"fmt"

	"github.com/vamsi-chittoor-constient/chatbot-core/internal/llm"
)

// unconfiguredProvider satisfies llm.Provider and ratelimit.Prober when no
// concrete LLM transport has been wired into this binary. The provider is
// an external collaborator: this core never ships an HTTP client for it,
// the same way it never ships one for the payment gateway or SMS dispatch.
// A deployment wires a real Provider in before accounts can be warmed up.
type unconfiguredProvider struct{}

func (unconfiguredProvider) Complete(ctx context.Context, apiKey string, messages []llm.Message, temperature float64) (string, error) {
	return "", fmt.Errorf("llm: no provider adapter configured")
}

func (unconfiguredProvider) CompleteStructured(ctx context.Context, apiKey string, messages []llm.Message, schemaName string, schema map[string]interface{}) ([]byte, error) {
	return nil, fmt.Errorf("llm: no provider adapter configured")
}

func (unconfiguredProvider) Probe(ctx context.Context, apiKey string) error {
	return fmt.Errorf("llm: no provider adapter configured, cannot validate account credentials")
}
