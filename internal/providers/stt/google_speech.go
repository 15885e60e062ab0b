package stt

import (
	"context"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

type GoogleSpeech struct {
	c *speech.Client

	Encoding     speechpb.RecognitionConfig_AudioEncoding
	SampleRateHz int32
	Language     string
}

// NewGoogleSpeech expects OGG/Opus voice notes, which is what the audio
// stage produces.
func NewGoogleSpeech(ctx context.Context, language string) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	if language == "" {
		language = "pt-BR"
	}
	return &GoogleSpeech{
		c:            c,
		Encoding:     speechpb.RecognitionConfig_OGG_OPUS,
		SampleRateHz: 48000,
		Language:     language,
	}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

func (g *GoogleSpeech) Transcribe(ctx context.Context, audio []byte) (string, error) {
	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   g.Encoding,
			SampleRateHertz:            g.SampleRateHz,
			LanguageCode:               g.Language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", err
	}
	return joinBest(resp.GetResults()), nil
}

// joinBest concatenates the top alternative of each result segment.
func joinBest(results []*speechpb.SpeechRecognitionResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		alts := r.GetAlternatives()
		if len(alts) == 0 || alts[0].GetTranscript() == "" {
			continue
		}
		parts = append(parts, strings.TrimSpace(alts[0].GetTranscript()))
	}
	return strings.Join(parts, " ")
}
