// Package transport connects the relay to the messaging side: an inbound
// queue of user messages and an outbound reply path.
package transport

import (
	"context"

	"github.com/yoockh/yoorelay/internal/models"
)

const (
	InboundStream = "relay:inbound"
	InboundGroup  = "relay-workers"

	// payload field of an inbound stream entry
	PayloadField = "payload"
)

func ReplyChannel(userID string) string  { return "relay:user:" + userID + ":reply" }
func StatusChannel(userID string) string { return "relay:user:" + userID + ":status" }

// Sender replies to the message that triggered the reply. Delivery is at
// most once; callers do not retry.
type Sender interface {
	SendText(ctx context.Context, to *models.InboundMessage, text string) error
	SendVoice(ctx context.Context, to *models.InboundMessage, audio []byte) error
}

// Inbox accepts inbound messages for asynchronous processing and returns the
// queue id.
type Inbox interface {
	Enqueue(ctx context.Context, msg *models.InboundMessage) (string, error)
}
