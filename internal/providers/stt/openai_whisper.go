package stt

import (
	"bytes"
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
)

type OpenAIWhisper struct {
	client *openai.Client
	model  string
}

func NewOpenAIWhisper(apiKey, baseURL, model string) (*OpenAIWhisper, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if model == "" {
		model = openai.Whisper1
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIWhisper{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (w *OpenAIWhisper) Close() error { return nil }

// Transcribe uploads the buffer directly; the file name only tells the API
// which container to expect.
func (w *OpenAIWhisper) Transcribe(ctx context.Context, audio []byte) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: "voice.ogg",
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
