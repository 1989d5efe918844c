// Package classifier scores businesses against the fixed fit rubric using
// Claude. It owns prompt construction and the strict-then-repair parsing
// of model output; persistence and the should-classify decision live in
// the store.
package classifier

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/territory-intel/internal/model"
	"github.com/sells-group/territory-intel/pkg/anthropic"
)

// systemPrompt pins the output contract. The repair path in parse.go
// still tolerates fenced or chatty responses.
const systemPrompt = `Return ONLY valid JSON. No markdown. No extra text.
Keys required:
industry_bucket, mobility_fit, security_fit, voip_fit, fleet_attach,
signal_after_hours, signal_dispatch, signal_field_work, ai_reason.
Rules:
- fits are integers 0-100
- signals are integers 0 or 1
- ai_reason <= 400 chars
- Mobility is highest priority; Security then VoIP then Fleet.`

const defaultTemperature = 0.2

// Input is the business context handed to the model.
type Input struct {
	Name         string  `json:"name"`
	Address      string  `json:"address"`
	PrimaryType  *string `json:"primary_type"`
	Website      *string `json:"website"`
	HomepageText string  `json:"homepage_text,omitempty"`
}

// Classifier calls Claude and validates the result.
type Classifier struct {
	ai        anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Classifier using the given Anthropic client and model.
func New(ai anthropic.Client, modelID string, maxTokens int64) *Classifier {
	if maxTokens <= 0 {
		maxTokens = 250
	}
	return &Classifier{ai: ai, model: modelID, maxTokens: maxTokens}
}

// Classify scores one business. The returned classification is always
// fully populated and range-clamped, safe to write as a complete block.
func (c *Classifier) Classify(ctx context.Context, in Input) (*model.Classification, error) {
	info, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrap(err, "classifier: marshal input")
	}

	temp := defaultTemperature
	resp, err := c.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      systemPrompt,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: "user", Content: "Business:\n" + string(info)},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "classifier: classify %s", in.Name)
	}

	result, err := ParseClassification(resp.TextContent())
	if err != nil {
		return nil, eris.Wrapf(err, "classifier: parse output for %s", in.Name)
	}

	zap.L().Debug("classified business",
		zap.String("name", in.Name),
		zap.String("bucket", result.IndustryBucket),
		zap.Int64("mobility_fit", result.MobilityFit),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return result, nil
}
