package tts

import "context"

// Synthesizer renders reply text as an encoded voice note.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Close() error
}
