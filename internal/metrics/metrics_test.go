package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStage(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordStage("transform", 20*time.Millisecond, nil)
	m.RecordStage("transform", 30*time.Millisecond, errors.New("exit 1"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageFailures.WithLabelValues("transform")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration, "yoorelay_stage_duration_seconds"))
}

func TestRecordMessage(t *testing.T) {
	m := Nop()
	m.RecordMessage("text")
	m.RecordMessage("text")
	m.RecordMessage("audio")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Messages.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Messages.WithLabelValues("audio")))
}

func TestNew_IsolatedRegistries(t *testing.T) {
	require.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
