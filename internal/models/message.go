package models

import "time"

// InboundMessage is one event delivered by the messaging transport.
type InboundMessage struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"` // user or group identity assigned by the transport
	Text   string `json:"text,omitempty"`

	HasMedia    bool   `json:"has_media"`
	MediaBase64 string `json:"media_base64,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

type ReplyKind string

const (
	ReplyText  ReplyKind = "text"
	ReplyVoice ReplyKind = "voice"
)

// OutboundReply is what the relay hands back to the transport.
type OutboundReply struct {
	MessageID string    `json:"message_id,omitempty"`
	UserID    string    `json:"user_id"`
	Kind      ReplyKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Audio     []byte    `json:"audio,omitempty"` // base64 on the wire
	CreatedAt time.Time `json:"created_at"`
}
