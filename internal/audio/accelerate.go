package audio

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultFFmpegPath = "ffmpeg"

// Accelerator changes the playback speed of an encoded audio buffer with
// ffmpeg's atempo filter and re-encodes it as OGG/Opus.
type Accelerator struct {
	path string
	log  *logrus.Logger
}

func NewAccelerator(ffmpegPath string, log *logrus.Logger) *Accelerator {
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}
	if log == nil {
		log = logrus.New()
	}
	return &Accelerator{path: ffmpegPath, log: log}
}

// Args returns the ffmpeg arguments used for speed. speed is passed through
// unvalidated; ffmpeg rejects values outside its supported range.
func Args(speed float64) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-filter:a", "atempo=" + strconv.FormatFloat(speed, 'f', -1, 64),
		"-f", "ogg",
		"-c:a", "libopus",
		"pipe:1",
	}
}

// Accelerate returns a new buffer; buf is not modified. Failures carry
// utils.CodeTransformFailure and wrap a *TransformError.
func (a *Accelerator) Accelerate(ctx context.Context, buf []byte, speed float64) ([]byte, error) {
	start := time.Now()
	out, err := RunFilter(ctx, a.path, Args(speed), buf)
	if err != nil {
		return nil, err
	}
	a.log.WithFields(logrus.Fields{
		"speed":      speed,
		"in_bytes":   len(buf),
		"out_bytes":  len(out),
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("audio accelerated")
	return out, nil
}
