package transport

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yoockh/yoorelay/internal/models"
	"github.com/yoockh/yoorelay/internal/utils"
)

// RedisSender publishes replies on the per-user reply channel. Subscribers
// (the websocket bridge or an external messaging adapter) forward them.
type RedisSender struct {
	rdb *redis.Client
}

func NewRedisSender(rdb *redis.Client) *RedisSender {
	return &RedisSender{rdb: rdb}
}

func (s *RedisSender) SendText(ctx context.Context, to *models.InboundMessage, text string) error {
	return s.publish(ctx, "RedisSender.SendText", &models.OutboundReply{
		MessageID: to.ID,
		UserID:    to.UserID,
		Kind:      models.ReplyText,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *RedisSender) SendVoice(ctx context.Context, to *models.InboundMessage, audio []byte) error {
	return s.publish(ctx, "RedisSender.SendVoice", &models.OutboundReply{
		MessageID: to.ID,
		UserID:    to.UserID,
		Kind:      models.ReplyVoice,
		Audio:     audio,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *RedisSender) publish(ctx context.Context, op string, r *models.OutboundReply) error {
	b, err := EncodeReply(r)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to encode reply", err)
	}
	if err := s.rdb.Publish(ctx, ReplyChannel(r.UserID), b).Err(); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to publish reply", err)
	}
	return nil
}

// RedisInbox appends inbound messages to a Redis stream consumed by the
// worker pool.
type RedisInbox struct {
	rdb    *redis.Client
	stream string
}

func NewRedisInbox(rdb *redis.Client, stream string) *RedisInbox {
	if stream == "" {
		stream = InboundStream
	}
	return &RedisInbox{rdb: rdb, stream: stream}
}

func (i *RedisInbox) Enqueue(ctx context.Context, msg *models.InboundMessage) (string, error) {
	const op = "RedisInbox.Enqueue"

	if strings.TrimSpace(msg.UserID) == "" {
		return "", utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b, err := EncodeInbound(msg)
	if err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to encode message", err)
	}

	if err := i.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: i.stream,
		Values: map[string]any{
			PayloadField: string(b),
			"user_id":    msg.UserID,
		},
	}).Err(); err != nil {
		return "", utils.E(utils.CodeUnavailable, op, "failed to enqueue message", err)
	}
	return msg.ID, nil
}
