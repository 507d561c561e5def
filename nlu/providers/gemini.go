package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/yoavra/yoman/nlu"
)

// GeminiProvider analyzes messages through the Gemini API with a constrained
// JSON response schema.
type GeminiProvider struct {
	apiKey string
	model  string
}

func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey, model: model}
}

func (p *GeminiProvider) Name() string { return "gemini" }

var geminiResultSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"intent": {
			Type: genai.TypeString,
			Enum: []string{
				"create_event", "create_reminder", "create_task",
				"list_agenda", "search", "update_event", "cancel_event",
				"cancel_reminder", "complete_task", "add_participant",
				"add_comment", "preferences", "dashboard", "help",
				"small_talk", "unknown",
			},
		},
		"confidence": {Type: genai.TypeNumber},
		"entities": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"title":      {Type: genai.TypeString},
				"date_text":  {Type: genai.TypeString},
				"time_text":  {Type: genai.TypeString},
				"location":   {Type: genai.TypeString},
				"person":     {Type: genai.TypeString},
				"recurrence": {Type: genai.TypeString},
				"lead":       {Type: genai.TypeString},
				"query":      {Type: genai.TypeString},
				"field":      {Type: genai.TypeString},
				"value":      {Type: genai.TypeString},
			},
		},
	},
	Required: []string{"intent", "confidence", "entities"},
}

func (p *GeminiProvider) Analyze(ctx context.Context, prompt nlu.Prompt) (nlu.Result, nlu.Usage, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nlu.Result{}, nlu.Usage{}, fmt.Errorf("failed to create gemini client: %w", err)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.System, ""),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    geminiResultSchema,
	}

	var contents []*genai.Content
	for _, t := range prompt.Turns {
		role := genai.RoleUser
		if t.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: t.Text}},
		})
	}
	contents = append(contents, &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: prompt.UserText}},
	})

	result, err := client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nlu.Result{}, nlu.Usage{}, err
	}
	if result == nil || len(result.Candidates) == 0 {
		return nlu.Result{}, nlu.Usage{}, fmt.Errorf("no response from gemini")
	}

	var fullText string
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			fullText += part.Text
		}
	}

	var out nlu.Result
	if err := json.Unmarshal([]byte(fullText), &out); err != nil {
		return nlu.Result{}, nlu.Usage{}, fmt.Errorf("gemini returned malformed json: %w", err)
	}

	var usage nlu.Usage
	usage.Model = p.model
	if result.UsageMetadata != nil {
		usage.InputTokens = int(result.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(result.UsageMetadata.CandidatesTokenCount)
		usage.CostUSD = nlu.Cost(p.model, usage.InputTokens, usage.OutputTokens)
	}

	logrus.WithFields(logrus.Fields{
		"model":    p.model,
		"intent":   out.Intent,
		"cost_usd": fmt.Sprintf("$%.6f", usage.CostUSD),
	}).Debug("[NLU] gemini analysis completed")

	return out, usage, nil
}
