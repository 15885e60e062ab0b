// Package usage accumulates token consumption reported by the generation
// backend and emits per-call diagnostics when token debugging is on.
package usage

import (
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/yoockh/yoorelay/internal/models"
)

type Stats struct {
	TotalTokensUsed int64 `json:"total_tokens_used"`
	Enabled         bool  `json:"debug_enabled"`
}

// Recorder is safe for concurrent use. When disabled every method except
// Stats is a no-op and the total stays at zero.
type Recorder struct {
	enabled bool
	total   atomic.Int64
	log     *logrus.Logger
}

func NewRecorder(enabled bool, log *logrus.Logger) *Recorder {
	if log == nil {
		log = logrus.New()
	}
	return &Recorder{enabled: enabled, log: log}
}

func (r *Recorder) Enabled() bool { return r.enabled }

// Record adds u.TotalTokens to the running total. historyLen < 0 omits the
// history size from the log line.
func (r *Recorder) Record(fn, model string, u models.Usage, historyLen int) {
	if !r.enabled {
		return
	}
	total := r.total.Add(int64(u.TotalTokens))

	fields := logrus.Fields{
		"function":          fn,
		"model":             model,
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
		"call_tokens":       u.TotalTokens,
		"accumulated":       total,
		"at":                time.Now().UTC().Format(time.RFC3339),
	}
	if historyLen >= 0 {
		fields["history_len"] = historyLen
	}
	r.log.WithFields(fields).Info("token debug")
}

func (r *Recorder) RecordTranscription(fn string, audioBytes int) {
	if !r.enabled {
		return
	}
	r.log.WithFields(logrus.Fields{
		"function":    fn,
		"audio_bytes": audioBytes,
	}).Info("audio debug")
}

func (r *Recorder) RecordSpeech(fn string, textLen, audioBytes int) {
	if !r.enabled {
		return
	}
	r.log.WithFields(logrus.Fields{
		"function":    fn,
		"text_len":    textLen,
		"audio_bytes": audioBytes,
	}).Info("speech debug")
}

func (r *Recorder) Stats() Stats {
	return Stats{TotalTokensUsed: r.total.Load(), Enabled: r.enabled}
}

func (r *Recorder) Reset() {
	if !r.enabled {
		return
	}
	r.total.Store(0)
	r.log.Info("token counter reset")
}
