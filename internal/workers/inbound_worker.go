package workers

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoorelay/internal/cache"
	"github.com/yoockh/yoorelay/internal/models"
	"github.com/yoockh/yoorelay/internal/transport"
	"github.com/yoockh/yoorelay/internal/utils"
)

// Submitter queues a message for processing and calls done with the result.
type Submitter interface {
	Submit(msg *models.InboundMessage, done func(error)) error
}

// StatusEvent is published on the per-user status channel after each message.
type StatusEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// InboundWorkerPool reads the inbound stream with a consumer group and hands
// every entry to the dispatcher. Entries are acked once the dispatcher
// reports back. On Start each consumer first replays its own pending
// entries, and entries pending on any consumer for longer than ClaimIdle are
// reclaimed every ClaimInterval, so work left unacked by a crash or a
// rejected submit is retried.
type InboundWorkerPool struct {
	Redis      *redis.Client
	Dispatcher Submitter
	NumWorkers int

	Logger *logrus.Logger

	// Seen, when set, drops entries whose message id was already handled
	// within SeenTTL.
	Seen    cache.Cache
	SeenTTL time.Duration

	Stream         string
	Group          string
	ConsumerPrefix string
	Block          time.Duration

	// ClaimIdle must exceed the longest time a message can spend queued and
	// running in the dispatcher, or in-flight entries of other instances get
	// handled twice.
	ClaimIdle     time.Duration
	ClaimInterval time.Duration

	inflight sync.Map // redis entry id -> struct{}
}

func (p *InboundWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Dispatcher == nil {
		return errors.New("InboundWorkerPool missing dependency: Redis/Dispatcher must be set")
	}
	if p.Stream == "" {
		p.Stream = transport.InboundStream
	}
	if p.Group == "" {
		p.Group = transport.InboundGroup
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 5
	}
	if p.SeenTTL <= 0 {
		p.SeenTTL = 24 * time.Hour
	}
	if p.Block <= 0 {
		p.Block = 5 * time.Second
	}
	if p.ClaimIdle <= 0 {
		p.ClaimIdle = 5 * time.Minute
	}
	if p.ClaimInterval <= 0 {
		p.ClaimInterval = 30 * time.Second
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		go p.runConsumer(ctx, consumer)
	}
	go p.runReclaimer(ctx, p.ConsumerPrefix+"-1")
	return nil
}

func (p *InboundWorkerPool) runConsumer(ctx context.Context, consumer string) {
	p.drainBacklog(ctx, consumer)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    p.Block,
		}).Result()

		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			p.Logger.WithError(err).WithField("consumer", consumer).Warn("xreadgroup failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg, false)
			}
		}
	}
}

// drainBacklog replays entries delivered to consumer before a restart but
// never acked.
func (p *InboundWorkerPool) drainBacklog(ctx context.Context, consumer string) {
	last := "0"
	for ctx.Err() == nil {
		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, last},
			Count:    10,
			Block:    -1,
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				p.Logger.WithError(err).WithField("consumer", consumer).Warn("pending replay failed")
			}
			return
		}

		n := 0
		for _, stream := range res {
			for _, msg := range stream.Messages {
				n++
				last = msg.ID
				p.handleMsg(ctx, msg, true)
			}
		}
		if n == 0 {
			return
		}
		p.Logger.WithFields(logrus.Fields{"consumer": consumer, "count": n}).Info("replayed pending entries")
	}
}

func (p *InboundWorkerPool) runReclaimer(ctx context.Context, consumer string) {
	t := time.NewTicker(p.ClaimInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.reclaim(ctx, consumer)
		}
	}
}

// reclaim takes over entries idle for longer than ClaimIdle on any consumer.
func (p *InboundWorkerPool) reclaim(ctx context.Context, consumer string) {
	start := "0-0"
	for ctx.Err() == nil {
		msgs, next, err := p.Redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   p.Stream,
			Group:    p.Group,
			Consumer: consumer,
			MinIdle:  p.ClaimIdle,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				p.Logger.WithError(err).Warn("xautoclaim failed")
			}
			return
		}

		for _, msg := range msgs {
			if _, busy := p.inflight.Load(msg.ID); busy {
				continue
			}
			p.Logger.WithField("redis_id", msg.ID).Info("reclaimed idle entry")
			p.handleMsg(ctx, msg, true)
		}
		if next == "" || next == "0-0" {
			return
		}
		start = next
	}
}

// handleMsg submits one entry. redelivered marks entries coming from a
// pending replay or a reclaim, whose earlier attempt never completed.
func (p *InboundWorkerPool) handleMsg(ctx context.Context, entry redis.XMessage, redelivered bool) {
	log := p.Logger.WithField("redis_id", entry.ID)

	raw, _ := entry.Values[transport.PayloadField].(string)
	msg, err := transport.DecodeInbound([]byte(raw))
	if err != nil || msg.UserID == "" {
		// poison entry: ack so it is not redelivered forever
		log.WithError(err).Warn("dropping undecodable inbound entry")
		p.ack(ctx, entry.ID)
		return
	}

	log = log.WithFields(logrus.Fields{
		"user":       utils.Suffix(msg.UserID, 10),
		"message_id": msg.ID,
	})

	if _, busy := p.inflight.LoadOrStore(entry.ID, struct{}{}); busy {
		return
	}

	if !p.claim(ctx, msg, redelivered, log) {
		p.inflight.Delete(entry.ID)
		p.ack(ctx, entry.ID)
		return
	}

	done := func(err error) {
		defer p.inflight.Delete(entry.ID)
		// the consumer ctx may already be cancelled during shutdown
		bg := context.WithoutCancel(ctx)
		p.ack(bg, entry.ID)
		ev := p.publishStatus(bg, msg, err)
		if p.Seen != nil && msg.ID != "" {
			_ = p.Seen.SetJSON(bg, cache.SeenKey(msg.ID), ev, p.SeenTTL)
		}
		if err != nil {
			log.WithError(err).WithField("code", utils.CodeOf(err)).Warn("message failed")
		}
	}

	if err := p.Dispatcher.Submit(msg, done); err != nil {
		log.WithError(err).Error("dispatcher rejected message")
		p.inflight.Delete(entry.ID)
		if p.Seen != nil && msg.ID != "" {
			_ = p.Seen.Del(context.WithoutCancel(ctx), cache.SeenKey(msg.ID))
		}
		// left pending for the reclaimer or the next start
		return
	}
}

// claim reports whether msg should be processed. Without a Seen cache, or
// when the cache is unreachable, every message is processed. A redelivered
// entry still marked processing belongs to an attempt that never finished
// and is processed again.
func (p *InboundWorkerPool) claim(ctx context.Context, msg *models.InboundMessage, redelivered bool, log *logrus.Entry) bool {
	if p.Seen == nil || msg.ID == "" {
		return true
	}
	key := cache.SeenKey(msg.ID)
	processing := StatusEvent{Type: "status", MessageID: msg.ID, Status: models.StatusProcessing}
	ok, err := p.Seen.SetJSONNX(ctx, key, processing, p.SeenTTL)
	if err != nil {
		log.WithError(err).Warn("seen cache unavailable")
		return true
	}
	if ok {
		return true
	}
	var prev StatusEvent
	if hit, _ := p.Seen.GetJSON(ctx, key, &prev); hit {
		if redelivered && prev.Status == models.StatusProcessing {
			log.Info("retrying unfinished message")
			return true
		}
		log = log.WithField("previous_status", prev.Status)
	}
	log.Info("duplicate message dropped")
	return false
}

func (p *InboundWorkerPool) ack(ctx context.Context, id string) {
	if err := p.Redis.XAck(ctx, p.Stream, p.Group, id).Err(); err != nil {
		p.Logger.WithError(err).WithField("redis_id", id).Warn("xack failed")
	}
}

func (p *InboundWorkerPool) publishStatus(ctx context.Context, msg *models.InboundMessage, err error) StatusEvent {
	ev := StatusEvent{Type: "status", MessageID: msg.ID, Status: models.StatusDone}
	if err != nil {
		ev.Status = models.StatusFailed
		ev.Code = string(utils.CodeOf(err))
		ev.Message = err.Error()
	}
	b, mErr := sonic.Marshal(ev)
	if mErr != nil {
		return ev
	}
	_ = p.Redis.Publish(ctx, transport.StatusChannel(msg.UserID), b).Err()
	return ev
}
