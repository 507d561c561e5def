// Package providers holds the concrete model backends of the intent ensemble.
package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"

	"github.com/yoavra/yoman/nlu"
)

// OpenAIProvider analyzes messages through the OpenAI chat completions API
// with a strict JSON schema response.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Analyze(ctx context.Context, prompt nlu.Prompt) (nlu.Result, nlu.Usage, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(prompt.System),
	}
	for _, t := range prompt.Turns {
		if t.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(t.Text))
		} else {
			messages = append(messages, openai.UserMessage(t.Text))
		}
	}
	messages = append(messages, openai.UserMessage(prompt.UserText))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "intent_analysis",
					Schema: any(nlu.ResultSchema()),
					Strict: openai.Bool(true),
				},
			},
		},
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nlu.Result{}, nlu.Usage{}, err
	}
	if len(completion.Choices) == 0 {
		return nlu.Result{}, nlu.Usage{}, fmt.Errorf("no response from openai")
	}

	var result nlu.Result
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &result); err != nil {
		return nlu.Result{}, nlu.Usage{}, fmt.Errorf("openai returned malformed json: %w", err)
	}

	usage := nlu.Usage{
		Model:        p.model,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}
	usage.CostUSD = nlu.Cost(p.model, usage.InputTokens, usage.OutputTokens)

	logrus.WithFields(logrus.Fields{
		"model":         p.model,
		"intent":        result.Intent,
		"input_tokens":  usage.InputTokens,
		"output_tokens": usage.OutputTokens,
		"cost_usd":      fmt.Sprintf("$%.6f", usage.CostUSD),
	}).Debug("[NLU] openai analysis completed")

	return result, usage, nil
}
