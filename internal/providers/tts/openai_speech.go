package tts

import (
	"context"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"
)

type OpenAISpeechConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
	Speed   float64
}

// OpenAISpeech returns Opus audio so the result can be sent as a voice note
// without re-encoding.
type OpenAISpeech struct {
	client *openai.Client
	model  string
	voice  string
	speed  float64
}

func NewOpenAISpeech(cfg OpenAISpeechConfig) (*OpenAISpeech, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini-tts"
	}
	if cfg.Voice == "" {
		cfg.Voice = "sage"
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAISpeech{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		voice:  cfg.Voice,
		speed:  cfg.Speed,
	}, nil
}

func (s *OpenAISpeech) Close() error { return nil }

func (s *OpenAISpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatOpus,
		Speed:          s.speed,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	return io.ReadAll(resp)
}
