package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/artifact"
)

const artifactSystemPrompt = `You produce a single JSON object of kind %q (schema version %s) that conforms to this JSON Schema:

%s

Reply with the JSON object only. No prose, no code fences. Emit object keys in the order the schema lists them.`

// ArtifactGenerator streams artifacts out of a chat model.
type ArtifactGenerator struct {
	model     model.BaseChatModel
	maxTokens int
}

// NewArtifactGenerator creates a generator over cm.
func NewArtifactGenerator(cm model.BaseChatModel) *ArtifactGenerator {
	return &ArtifactGenerator{model: cm, maxTokens: 2048}
}

// Generate streams model text and yields each repaired prefix as an
// object snapshot.
func (g *ArtifactGenerator) Generate(ctx context.Context, req artifact.Request) (*schema.StreamReader[map[string]any], error) {
	msgs := []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(artifactSystemPrompt, req.Kind, req.SchemaVersion, string(req.Schema))),
		schema.UserMessage(req.Input),
	}
	sr, err := g.model.Stream(ctx, msgs, model.WithMaxTokens(g.maxTokens))
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}
	return artifact.FromText(sr), nil
}

var _ artifact.Generator = (*ArtifactGenerator)(nil)
