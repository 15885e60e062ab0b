package llm

import (
	"context"
	"errors"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"

	"github.com/yoockh/yoorelay/internal/models"
)

type VertexGemini struct {
	client       *vertexgenai.Client
	defaultModel string
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	return &VertexGemini{client: c, defaultModel: modelName}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

// Complete replays all but the last turn as chat history and streams the
// answer to the last one.
func (v *VertexGemini) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if len(req.History) == 0 {
		return nil, errors.New("vertex: empty conversation")
	}

	// req.Model names an OpenAI model in the default setup, so only a
	// gemini-* name overrides the configured one
	name := v.defaultModel
	if strings.HasPrefix(req.Model, "gemini") {
		name = req.Model
	}

	m := v.client.GenerativeModel(name)
	if req.SystemPrompt != "" {
		m.SystemInstruction = &vertexgenai.Content{Parts: []vertexgenai.Part{vertexgenai.Text(req.SystemPrompt)}}
	}

	cs := m.StartChat()
	cs.History = GeminiHistory(req.History[:len(req.History)-1])
	last := req.History[len(req.History)-1]

	it := cs.SendMessageStream(ctx, vertexgenai.Text(last.Content))

	full := strings.Builder{}
	out := &Completion{}
	for {
		resp, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		if u := resp.UsageMetadata; u != nil {
			out.Usage = models.Usage{
				PromptTokens:     int(u.PromptTokenCount),
				CompletionTokens: int(u.CandidatesTokenCount),
				TotalTokens:      int(u.TotalTokenCount),
			}
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(vertexgenai.Text); ok {
					full.WriteString(string(t))
				}
			}
		}
	}

	out.Text = full.String()
	return out, nil
}

// GeminiHistory maps turns to Gemini contents; assistant turns use the
// "model" role.
func GeminiHistory(turns []models.Turn) []*vertexgenai.Content {
	out := make([]*vertexgenai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == models.RoleAssistant {
			role = "model"
		}
		out = append(out, &vertexgenai.Content{
			Role:  role,
			Parts: []vertexgenai.Part{vertexgenai.Text(t.Content)},
		})
	}
	return out
}
