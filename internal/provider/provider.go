package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// Provider represents an LLM provider with an Eino ChatModel.
type Provider interface {
	// ID returns the provider identifier.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Models returns the list of available models.
	Models() []types.Model

	// ChatModel returns the Eino ChatModel for this provider.
	ChatModel() model.BaseChatModel
}

// generateText runs one non-streaming completion and returns its text.
func generateText(ctx context.Context, cm model.BaseChatModel, msgs []*schema.Message, maxTokens int) (string, error) {
	var opts []model.Option
	if maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(maxTokens))
	}
	out, err := cm.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}
	text := strings.TrimSpace(out.Content)
	if text == "" {
		return "", fmt.Errorf("model returned an empty answer")
	}
	return text, nil
}
