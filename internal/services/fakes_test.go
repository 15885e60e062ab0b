package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoorelay/internal/history"
	"github.com/yoockh/yoorelay/internal/metrics"
	"github.com/yoockh/yoorelay/internal/models"
	"github.com/yoockh/yoorelay/internal/providers/llm"
	"github.com/yoockh/yoorelay/internal/usage"
)

var errBackend = errors.New("backend down")

type fakeCompleter struct {
	mu    sync.Mutex
	calls []llm.CompletionRequest
	reply func(req llm.CompletionRequest) string
	err   error
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hist := make([]models.Turn, len(req.History))
	copy(hist, req.History)
	req.History = hist
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	text := "reply"
	if f.reply != nil {
		text = f.reply(req)
	}
	return &llm.Completion{Text: text, Usage: models.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6}}, nil
}

func (f *fakeCompleter) Close() error { return nil }

func (f *fakeCompleter) Calls() []llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.CompletionRequest(nil), f.calls...)
}

type fakeSTT struct {
	text string
	err  error
	got  [][]byte
}

func (f *fakeSTT) Transcribe(_ context.Context, audio []byte) (string, error) {
	f.got = append(f.got, audio)
	return f.text, f.err
}

func (f *fakeSTT) Close() error { return nil }

type fakeTTS struct {
	audio []byte
	err   error
	got   []string
}

func (f *fakeTTS) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.got = append(f.got, text)
	return f.audio, f.err
}

func (f *fakeTTS) Close() error { return nil }

type fakeAccel struct {
	err    error
	speeds []float64
	inputs [][]byte
}

func (f *fakeAccel) Accelerate(_ context.Context, buf []byte, speed float64) ([]byte, error) {
	f.speeds = append(f.speeds, speed)
	f.inputs = append(f.inputs, buf)
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("fast:"), buf...), nil
}

type sent struct {
	userID string
	text   string
	audio  []byte
}

type fakeSender struct {
	mu   sync.Mutex
	out  []sent
	fail error
}

func (f *fakeSender) SendText(_ context.Context, to *models.InboundMessage, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{userID: to.UserID, text: text})
	return f.fail
}

func (f *fakeSender) SendVoice(_ context.Context, to *models.InboundMessage, audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{userID: to.UserID, audio: audio})
	return f.fail
}

func (f *fakeSender) Sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.out...)
}

type fakeTraces struct {
	mu    sync.Mutex
	marks []models.StageMark
}

func (f *fakeTraces) Open(context.Context, *models.InboundMessage, string) error { return nil }

func (f *fakeTraces) Mark(_ context.Context, _ string, stage, status, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, models.StageMark{Stage: stage, Status: status, Detail: detail})
	return nil
}

func (f *fakeTraces) Get(context.Context, string) (*models.MessageTrace, error) { return nil, nil }

func (f *fakeTraces) ListByUser(context.Context, string, int64) ([]models.MessageTrace, error) {
	return nil, nil
}

func (f *fakeTraces) statusOf(stage string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.marks) - 1; i >= 0; i-- {
		if f.marks[i].Stage == stage {
			return f.marks[i].Status
		}
	}
	return ""
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type harness struct {
	o       Orchestrator
	store   *history.Store
	usage   *usage.Recorder
	llm     *fakeCompleter
	stt     *fakeSTT
	tts     *fakeTTS
	accel   *fakeAccel
	sender  *fakeSender
	traces  *fakeTraces
	metrics *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   history.NewStore(20),
		usage:   usage.NewRecorder(true, quietLogger()),
		llm:     &fakeCompleter{},
		stt:     &fakeSTT{text: "transcribed words"},
		tts:     &fakeTTS{audio: []byte("OggS-voice")},
		accel:   &fakeAccel{},
		sender:  &fakeSender{},
		traces:  &fakeTraces{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	o, err := NewOrchestrator(OrchestratorConfig{
		TextModel:   "gpt-5-mini",
		AudioModel:  "gpt-5-nano",
		TextPrompt:  "text prompt",
		AudioPrompt: "audio prompt",
	}, OrchestratorDeps{
		Store:       h.store,
		Usage:       h.usage,
		Accelerator: h.accel,
		LLM:         h.llm,
		STT:         h.stt,
		TTS:         h.tts,
		Sender:      h.sender,
		Traces:      h.traces,
		Metrics:     h.metrics,
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	h.o = o
	return h
}
