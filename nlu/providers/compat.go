package providers

import (
	"context"
	"encoding/json"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/yoavra/yoman/nlu"
)

// CompatProvider talks to any OpenAI-compatible endpoint, typically a
// self-hosted model. These endpoints rarely support strict schemas, so it
// asks for a JSON object and validates on the way out.
type CompatProvider struct {
	client *goopenai.Client
	model  string
}

func NewCompatProvider(apiKey, baseURL, model string) *CompatProvider {
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &CompatProvider{
		client: goopenai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (p *CompatProvider) Name() string { return "compat" }

func (p *CompatProvider) Analyze(ctx context.Context, prompt nlu.Prompt) (nlu.Result, nlu.Usage, error) {
	messages := []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleSystem, Content: prompt.System},
	}
	for _, t := range prompt.Turns {
		role := goopenai.ChatMessageRoleUser
		if t.Role == "assistant" {
			role = goopenai.ChatMessageRoleAssistant
		}
		messages = append(messages, goopenai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role: goopenai.ChatMessageRoleUser, Content: prompt.UserText,
	})

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nlu.Result{}, nlu.Usage{}, err
	}
	if len(resp.Choices) == 0 {
		return nlu.Result{}, nlu.Usage{}, fmt.Errorf("no response from compat endpoint")
	}

	var result nlu.Result
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		return nlu.Result{}, nlu.Usage{}, fmt.Errorf("compat endpoint returned malformed json: %w", err)
	}
	if result.Intent == "" {
		return nlu.Result{}, nlu.Usage{}, fmt.Errorf("compat endpoint returned no intent")
	}

	usage := nlu.Usage{
		Model:        p.model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		CostUSD:      nlu.Cost(p.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}

	logrus.WithFields(logrus.Fields{
		"model":  p.model,
		"intent": result.Intent,
	}).Debug("[NLU] compat analysis completed")

	return result, usage, nil
}
