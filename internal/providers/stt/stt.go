package stt

import "context"

// Transcriber turns an encoded voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
	Close() error
}
