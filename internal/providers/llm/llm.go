package llm

import (
	"context"

	"github.com/yoockh/yoorelay/internal/models"
)

type CompletionRequest struct {
	Model        string
	SystemPrompt string
	// History is replayed verbatim, oldest first. The last turn is the one
	// being answered.
	History []models.Turn
}

type Completion struct {
	Text  string
	Usage models.Usage
}

// Completer produces one reply for a conversation. Implementations make a
// single attempt per call.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Close() error
}
