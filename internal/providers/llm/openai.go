package llm

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"

	"github.com/yoockh/yoorelay/internal/models"
)

type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	ReasoningEffort string
}

type OpenAIChat struct {
	client          *openai.Client
	reasoningEffort string
}

func NewOpenAIChat(cfg OpenAIConfig) (*OpenAIChat, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIChat{
		client:          openai.NewClientWithConfig(oc),
		reasoningEffort: cfg.ReasoningEffort,
	}, nil
}

func (o *OpenAIChat) Close() error { return nil }

func (o *OpenAIChat) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:           req.Model,
		ReasoningEffort: o.reasoningEffort,
		Messages:        ChatMessages(req.SystemPrompt, req.History),
	})
	if err != nil {
		return nil, err
	}

	out := &Completion{
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
	}
	return out, nil
}

// ChatMessages puts the system prompt first and then the history in order.
func ChatMessages(systemPrompt string, history []models.Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, t := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: chatRole(t.Role), Content: t.Content})
	}
	return msgs
}

func chatRole(r models.Role) string {
	switch r {
	case models.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case models.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
