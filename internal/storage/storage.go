package storage

import (
	"context"
	"io"
)

// Uploader stores an object and returns where it can be fetched from.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

// VoiceObjectName is the object key of the synthesized reply to messageID.
func VoiceObjectName(userID, messageID string) string {
	return "voice/" + userID + "/" + messageID + ".ogg"
}
