package judge

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

const arbiterPrompt = `You arbitrate between near-tied tool selections for an automation system. ` +
	`Read the candidates and pick the single best fit for the stated capability. ` +
	`Reply with JSON only, no prose: {"choice":"<candidate>"} where <candidate> is copied exactly from the list.`

// OpenAI asks a chat model to choose between near-tied candidates.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

func NewOpenAI(apiKey, model string, logger *zap.Logger) *OpenAI {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger,
	}
}

func (o *OpenAI) Resolve(ctx context.Context, prompt string, options []string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: arbiterPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxCompletionTokens: 64,
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("Resolve: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("Resolve: no choices returned")
	}
	o.logger.Debug("judge responded",
		zap.String("model", o.model),
		zap.Int("options", len(options)),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
	)
	return resp.Choices[0].Message.Content, nil
}
