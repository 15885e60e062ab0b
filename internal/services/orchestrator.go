package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoorelay/internal/history"
	"github.com/yoockh/yoorelay/internal/metrics"
	"github.com/yoockh/yoorelay/internal/models"
	"github.com/yoockh/yoorelay/internal/providers/llm"
	"github.com/yoockh/yoorelay/internal/providers/stt"
	"github.com/yoockh/yoorelay/internal/providers/tts"
	"github.com/yoockh/yoorelay/internal/storage"
	"github.com/yoockh/yoorelay/internal/transport"
	"github.com/yoockh/yoorelay/internal/usage"
	"github.com/yoockh/yoorelay/internal/utils"
)

// Message kinds, used as trace kind and metric label.
const (
	KindText    = "text"
	KindAudio   = "audio"
	KindCommand = "command"
	KindEmpty   = "empty"
)

const (
	DefaultAudioSpeed    = 2.0
	DefaultMaxMediaBytes = 10 << 20
)

// Accelerator changes the playback speed of an encoded audio buffer.
type Accelerator interface {
	Accelerate(ctx context.Context, buf []byte, speed float64) ([]byte, error)
}

// Orchestrator runs one inbound message through the pipeline.
type Orchestrator interface {
	Handle(ctx context.Context, msg *models.InboundMessage) error
}

type OrchestratorConfig struct {
	TextModel   string
	AudioModel  string
	TextPrompt  string
	AudioPrompt string

	AudioSpeed    float64
	MaxMediaBytes int64
}

type OrchestratorDeps struct {
	Store       *history.Store
	Usage       *usage.Recorder
	Accelerator Accelerator
	LLM         llm.Completer
	STT         stt.Transcriber
	TTS         tts.Synthesizer
	Sender      transport.Sender

	// optional
	Traces     TraceService
	Archive    ArchiveService
	Metrics    *metrics.Metrics
	Logger     *logrus.Logger
	HTTPClient *http.Client
	VoiceStore storage.Uploader
}

type orchestrator struct {
	cfg      OrchestratorConfig
	store    *history.Store
	usage    *usage.Recorder
	accel    Accelerator
	llm      llm.Completer
	stt      stt.Transcriber
	tts      tts.Synthesizer
	sender   transport.Sender
	traces   TraceService
	archive  ArchiveService
	metrics  *metrics.Metrics
	log      *logrus.Logger
	http     *http.Client
	voices   storage.Uploader
	commands *Commands
}

func NewOrchestrator(cfg OrchestratorConfig, d OrchestratorDeps) (Orchestrator, error) {
	if d.Store == nil || d.Usage == nil || d.Accelerator == nil || d.LLM == nil || d.STT == nil || d.TTS == nil || d.Sender == nil {
		return nil, utils.E(utils.CodeInvalidArgument, "NewOrchestrator", "missing dependency: Store/Usage/Accelerator/LLM/STT/TTS/Sender must be set", nil)
	}
	if cfg.AudioSpeed <= 0 {
		cfg.AudioSpeed = DefaultAudioSpeed
	}
	if cfg.MaxMediaBytes <= 0 {
		cfg.MaxMediaBytes = DefaultMaxMediaBytes
	}
	if cfg.AudioModel == "" {
		cfg.AudioModel = cfg.TextModel
	}
	if d.Traces == nil {
		d.Traces = NewTraceService(nil, 0)
	}
	if d.Archive == nil {
		d.Archive = NewArchiveService(nil)
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop()
	}
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	o := &orchestrator{
		cfg:     cfg,
		store:   d.Store,
		usage:   d.Usage,
		accel:   d.Accelerator,
		llm:     d.LLM,
		stt:     d.STT,
		tts:     d.TTS,
		sender:  d.Sender,
		traces:  d.Traces,
		archive: d.Archive,
		metrics: d.Metrics,
		log:     d.Logger,
		http:    d.HTTPClient,
		voices:  d.VoiceStore,
	}
	o.commands = NewCommands(d.Store, d.Usage, func(ctx context.Context, msg *models.InboundMessage, prompt string, log *logrus.Entry) (string, error) {
		return o.converse(ctx, msg, prompt, false, log)
	})
	return o, nil
}

// classify reports which path msg takes. Media wins over text; text that
// names a known command is a command.
func (o *orchestrator) classify(msg *models.InboundMessage) (string, string) {
	if msg.HasMedia {
		return KindAudio, ""
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return KindEmpty, ""
	}
	if o.commands.Match(text) {
		return KindCommand, text
	}
	return KindText, text
}

func (o *orchestrator) Handle(ctx context.Context, msg *models.InboundMessage) error {
	const op = "Orchestrator.Handle"

	if msg == nil || strings.TrimSpace(msg.UserID) == "" {
		return utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	kind, text := o.classify(msg)
	o.metrics.RecordMessage(kind)

	log := o.log.WithFields(logrus.Fields{
		"user":       utils.Suffix(msg.UserID, 10),
		"message_id": msg.ID,
		"kind":       kind,
	})

	if kind == KindEmpty {
		log.Debug("empty message ignored")
		return nil
	}

	if msg.ID != "" {
		if err := o.traces.Open(ctx, msg, kind); err != nil {
			log.WithError(err).Warn("trace open failed")
		}
	}

	switch kind {
	case KindAudio:
		return o.handleAudio(ctx, msg, log)
	case KindCommand:
		return o.handleCommand(ctx, msg, text, log)
	default:
		return o.handleText(ctx, msg, text, log)
	}
}

func (o *orchestrator) handleText(ctx context.Context, msg *models.InboundMessage, text string, log *logrus.Entry) error {
	reply, err := o.converse(ctx, msg, text, false, log)
	if err != nil {
		return err
	}
	o.deliver(ctx, msg, log, func() error { return o.sender.SendText(ctx, msg, reply) })
	return nil
}

func (o *orchestrator) handleCommand(ctx context.Context, msg *models.InboundMessage, text string, log *logrus.Entry) error {
	var reply string
	err := o.stage(ctx, msg, log, models.StageCommand, func() error {
		var rerr error
		reply, rerr = o.commands.Run(ctx, msg, text, log)
		return rerr
	})
	if err != nil {
		o.deliver(ctx, msg, log, func() error { return o.sender.SendText(ctx, msg, CommandFailedReply) })
		return err
	}
	o.deliver(ctx, msg, log, func() error { return o.sender.SendText(ctx, msg, reply) })
	return nil
}

func (o *orchestrator) handleAudio(ctx context.Context, msg *models.InboundMessage, log *logrus.Entry) error {
	const op = "Orchestrator.handleAudio"

	raw, err := o.fetchMedia(ctx, msg, log)
	if err != nil {
		return err
	}

	var fast []byte
	if err := o.stage(ctx, msg, log, models.StageTransform, func() error {
		var aerr error
		fast, aerr = o.accel.Accelerate(ctx, raw, o.cfg.AudioSpeed)
		if aerr != nil {
			return utils.E(utils.CodeTransformFailure, op, "failed to accelerate audio", aerr)
		}
		return nil
	}); err != nil {
		return err
	}

	var transcript string
	if err := o.stage(ctx, msg, log, models.StageTranscribe, func() error {
		var terr error
		transcript, terr = o.stt.Transcribe(ctx, fast)
		if terr != nil {
			return utils.E(utils.CodeBackendFailure, op, "transcription failed", terr)
		}
		return nil
	}); err != nil {
		return err
	}
	o.usage.RecordTranscription("transcribe", len(fast))
	log.WithField("transcript_len", len(transcript)).Debug("audio transcribed")

	reply, err := o.converse(ctx, msg, transcript, true, log)
	if err != nil {
		return err
	}

	// a synthesis failure drops the reply but keeps the assistant turn
	var voice []byte
	if err := o.stage(ctx, msg, log, models.StageSynthesize, func() error {
		var serr error
		voice, serr = o.tts.Synthesize(ctx, reply)
		if serr != nil {
			return utils.E(utils.CodeBackendFailure, op, "speech synthesis failed", serr)
		}
		return nil
	}); err != nil {
		return err
	}
	o.usage.RecordSpeech("synthesize", len(reply), len(voice))

	o.deliver(ctx, msg, log, func() error { return o.sender.SendVoice(ctx, msg, voice) })
	o.storeVoice(ctx, msg, voice, log)
	return nil
}

// storeVoice keeps a copy of the synthesized reply when a voice store is
// configured. Failures are logged only.
func (o *orchestrator) storeVoice(ctx context.Context, msg *models.InboundMessage, voice []byte, log *logrus.Entry) {
	if o.voices == nil || msg.ID == "" {
		return
	}
	start := time.Now()
	path, err := o.voices.Upload(ctx, storage.VoiceObjectName(msg.UserID, msg.ID), "audio/ogg", bytes.NewReader(voice))
	o.metrics.RecordStage(models.StageStoreVoice, time.Since(start), err)
	if err != nil {
		log.WithError(err).WithField("stage", models.StageStoreVoice).Warn("voice upload failed")
		o.mark(ctx, msg, log, models.StageStoreVoice, models.StatusFailed, err.Error())
		return
	}
	o.mark(ctx, msg, log, models.StageStoreVoice, models.StatusDone, path)
}

// converse appends the user turn, asks the backend for a reply against the
// full window and appends the reply. If generation fails the user turn stays
// and no assistant turn is added.
func (o *orchestrator) converse(ctx context.Context, msg *models.InboundMessage, input string, audio bool, log *logrus.Entry) (string, error) {
	const op = "Orchestrator.converse"

	model, prompt, fn := o.cfg.TextModel, o.cfg.TextPrompt, "generateText"
	if audio {
		model, prompt, fn = o.cfg.AudioModel, o.cfg.AudioPrompt, "generateAudioText"
	}

	o.store.AppendUser(msg.UserID, input)
	o.archiveTurn(ctx, msg, models.RoleUser, input, log)

	hist := o.store.GetOrCreate(msg.UserID)

	var out *llm.Completion
	if err := o.stage(ctx, msg, log, models.StageGenerate, func() error {
		var gerr error
		out, gerr = o.llm.Complete(ctx, llm.CompletionRequest{
			Model:        model,
			SystemPrompt: prompt,
			History:      hist,
		})
		if gerr != nil {
			return utils.E(utils.CodeBackendFailure, op, "generation failed", gerr)
		}
		return nil
	}); err != nil {
		return "", err
	}
	o.usage.Record(fn, model, out.Usage, len(hist))

	o.store.AppendAssistant(msg.UserID, out.Text)
	o.archiveTurn(ctx, msg, models.RoleAssistant, out.Text, log)

	log.WithFields(logrus.Fields{
		"model":       model,
		"history_len": len(hist),
		"reply_len":   len(out.Text),
	}).Info("reply generated")
	return out.Text, nil
}

func (o *orchestrator) fetchMedia(ctx context.Context, msg *models.InboundMessage, log *logrus.Entry) ([]byte, error) {
	const op = "Orchestrator.fetchMedia"

	if msg.MediaBase64 != "" {
		var raw []byte
		err := o.stage(ctx, msg, log, models.StageDecode, func() error {
			var derr error
			raw, derr = DecodeMedia(msg.MediaBase64)
			if derr != nil {
				return utils.E(utils.CodeInvalidArgument, op, "invalid media encoding", derr)
			}
			if int64(len(raw)) > o.cfg.MaxMediaBytes {
				return utils.E(utils.CodeInvalidArgument, op, "media too large", nil)
			}
			return nil
		})
		return raw, err
	}

	var raw []byte
	err := o.stage(ctx, msg, log, models.StageDownload, func() error {
		if msg.MediaURL == "" {
			return utils.E(utils.CodeInvalidArgument, op, "media payload missing", nil)
		}
		var ferr error
		raw, ferr = o.download(ctx, msg.MediaURL)
		return ferr
	})
	return raw, err
}

func (o *orchestrator) download(ctx context.Context, url string) ([]byte, error) {
	const op = "Orchestrator.download"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "invalid media url", err)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to fetch media", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, utils.E(utils.CodeUnavailable, op, fmt.Sprintf("media fetch returned %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, o.cfg.MaxMediaBytes+1))
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to read media", err)
	}
	if int64(len(body)) > o.cfg.MaxMediaBytes {
		return nil, utils.E(utils.CodeInvalidArgument, op, "media too large", nil)
	}
	if len(body) == 0 {
		return nil, utils.E(utils.CodeUnavailable, op, "empty media", nil)
	}
	return body, nil
}

// DecodeMedia decodes standard base64, accepting an optional data URI prefix.
func DecodeMedia(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:] // strip data:...;base64,
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

// stage times fn, records the outcome in metrics and the trace log, and logs
// failures with the stage name.
func (o *orchestrator) stage(ctx context.Context, msg *models.InboundMessage, log *logrus.Entry, stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	o.metrics.RecordStage(stage, time.Since(start), err)

	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"stage": stage,
			"code":  utils.CodeOf(err),
		}).Error("stage failed")
		o.mark(ctx, msg, log, stage, models.StatusFailed, err.Error())
		return err
	}
	o.mark(ctx, msg, log, stage, models.StatusDone, "")
	return nil
}

func (o *orchestrator) mark(ctx context.Context, msg *models.InboundMessage, log *logrus.Entry, stage, status, detail string) {
	if msg.ID == "" {
		return
	}
	if err := o.traces.Mark(ctx, msg.ID, stage, status, detail); err != nil {
		log.WithError(err).WithField("stage", stage).Debug("trace mark failed")
	}
}

// deliver is fire-and-forget: errors are logged and counted, never returned.
func (o *orchestrator) deliver(ctx context.Context, msg *models.InboundMessage, log *logrus.Entry, send func() error) {
	_ = o.stage(ctx, msg, log, models.StageDeliver, send)
}

func (o *orchestrator) archiveTurn(ctx context.Context, msg *models.InboundMessage, role models.Role, content string, log *logrus.Entry) {
	if _, err := o.archive.Append(ctx, msg.UserID, msg.ID, role, content, nil); err != nil {
		log.WithError(err).WithField("role", role).Warn("archive append failed")
	}
}
