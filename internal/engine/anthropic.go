package engine

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

const extractSystemPrompt = `You analyze sustainability evidence submitted by small businesses.
Given the evidence type and its text content, list every concrete observation
of sustainable equipment or practice as a JSON array. Each element:
{"label": string, "kind": "equipment_detected"|"receipt_item"|"certificate_claim"|"meter_delta",
 "attributes": {"item": string, "category": "energy_efficiency"|"renewable_energy"|"waste_management"|"water_conservation"},
 "quantity": number, "confidence": number between 0 and 100}
Respond with the JSON array only, no prose.`

// Anthropic extracts observations with a Claude model. Confidence comes
// back on a 0-100 scale.
type Anthropic struct {
	client sdk.Client
	model  string
}

// NewAnthropic creates an Anthropic-backed extraction provider.
func NewAnthropic(apiKey, modelID string) *Anthropic {
	if modelID == "" {
		modelID = "claude-haiku-4-5-20251001"
	}
	return &Anthropic{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  modelID,
	}
}

// Extract sends the payload text to the model and parses the returned
// observation array.
func (a *Anthropic) Extract(ctx context.Context, ev model.Evidence, payload []byte) (*RawResult, error) {
	prompt := "Evidence type: " + string(ev.Type) + "\n" +
		"Description: " + ev.Description + "\n" +
		"Content:\n" + string(payload)

	msg, err := a.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: 2048,
		System: []sdk.TextBlockParam{
			{Text: extractSystemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "engine: anthropic extract for %s", ev.ID)
	}

	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}

	obs, err := parseObservations(text.String())
	if err != nil {
		return nil, eris.Wrapf(err, "engine: parse anthropic response for %s", ev.ID)
	}

	zap.L().Debug("engine: anthropic extraction",
		zap.String("evidence_id", ev.ID),
		zap.Int("observations", len(obs)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens))

	return &RawResult{Engine: "anthropic", Scale: 100.0, Observations: obs}, nil
}

// parseObservations tolerates code fences and surrounding prose around the
// JSON array.
func parseObservations(text string) ([]Observation, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, eris.New("no JSON array in response")
	}
	var obs []Observation
	if err := json.Unmarshal([]byte(text[start:end+1]), &obs); err != nil {
		return nil, eris.Wrap(err, "unmarshal observations")
	}
	return obs, nil
}
