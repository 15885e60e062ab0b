package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Pipeline stages a message can pass through.
const (
	StageClassify   = "classify"
	StageDownload   = "download"
	StageDecode     = "decode"
	StageTransform  = "transform"
	StageTranscribe = "transcribe"
	StageGenerate   = "generate"
	StageSynthesize = "synthesize"
	StageDeliver    = "deliver"
	StageStoreVoice = "store_voice"
	StageCommand    = "command"
)

// Stage statuses.
const (
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

// MessageTrace is the operator-facing record of how one inbound message moved
// through the pipeline.
type MessageTrace struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MessageID string             `bson:"message_id" json:"message_id"`
	UserID    string             `bson:"user_id" json:"user_id"`
	Kind      string             `bson:"kind" json:"kind"` // text|audio|command

	Stages []StageMark `bson:"stages" json:"stages"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`

	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // for TTL index
}

type StageMark struct {
	Stage  string    `bson:"stage" json:"stage"`
	Status string    `bson:"status" json:"status"`
	Detail string    `bson:"detail,omitempty" json:"detail,omitempty"`
	At     time.Time `bson:"at" json:"at"`
}
