package provider

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/capture"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

var _ capture.Analyzer = (*FrameAnalyzer)(nil)

const frameSystemPrompt = `You are assisting a live business consultation. You are shown a single frame from the user's %s.
Describe what is relevant to the conversation in two or three sentences: documents, dashboards, products, diagrams, text on screen.
Do not describe people's appearance. If nothing is relevant, say so briefly.`

// FrameAnalyzer describes captured frames with a vision-capable chat model.
type FrameAnalyzer struct {
	model     model.BaseChatModel
	maxTokens int
}

// NewFrameAnalyzer creates a frame analyzer over cm.
func NewFrameAnalyzer(cm model.BaseChatModel) *FrameAnalyzer {
	return &FrameAnalyzer{model: cm, maxTokens: 512}
}

// AnalyzeFrame sends the frame as an image part alongside the prompt.
func (a *FrameAnalyzer) AnalyzeFrame(ctx context.Context, req types.AnalysisRequest) (*types.FrameAnalysis, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("frame analysis: empty image")
	}
	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = "image/jpeg"
	}

	source := "webcam"
	if req.WidgetType == types.WidgetScreen {
		source = "shared screen"
	}

	detail := schema.ImageURLDetailAuto
	if req.Priority == types.PriorityHigh {
		detail = schema.ImageURLDetailHigh
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = "What is shown in this frame?"
	}

	msgs := []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(frameSystemPrompt, source)),
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: prompt},
				{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL:      "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(req.Image),
						MIMEType: mediaType,
						Detail:   detail,
					},
				},
			},
		},
	}

	text, err := generateText(ctx, a.model, msgs, a.maxTokens)
	if err != nil {
		return nil, err
	}
	return &types.FrameAnalysis{Analysis: text}, nil
}
