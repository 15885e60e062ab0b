package models

import (
	"time"

	"gorm.io/datatypes"
)

// ConversationLog is the archived copy of one appended turn. It is written
// after the in-memory history changes and is never read back into it.
type ConversationLog struct {
	ID        string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID    string         `gorm:"column:user_id;type:text;index" json:"user_id"`
	MessageID string         `gorm:"column:message_id;type:text;index" json:"message_id"`
	Role      string         `gorm:"column:role;type:text" json:"role"` // "user" | "assistant"
	Content   string         `gorm:"column:content;type:text" json:"content"`
	Timestamp time.Time      `gorm:"column:timestamp;type:timestamptz;index" json:"timestamp"`
	Metadata  datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
}

func (ConversationLog) TableName() string { return "conversation_logs" }
