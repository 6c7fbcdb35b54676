package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAPICallIncrementsFilesDownloadedOnlyForBlob(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPipeline(reg)
	require.NoError(t, err)

	p.RecordAPICall("blob", 0.5)
	p.RecordAPICall("no_data", 0.1)
	p.RecordAPICall("blob", 0.3)

	assert.Equal(t, float64(2), testutil.ToFloat64(p.apiCallsTotal.WithLabelValues("blob")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.apiCallsTotal.WithLabelValues("no_data")))
	assert.Equal(t, float64(2), testutil.ToFloat64(p.filesDownloaded))
}

func TestRecordEventByDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPipeline(reg)
	require.NoError(t, err)

	p.RecordEvent("insert")
	p.RecordEvent("insert")
	p.RecordEvent("skip_time_window")

	assert.Equal(t, float64(2), testutil.ToFloat64(p.eventsTotal.WithLabelValues("insert")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.eventsTotal.WithLabelValues("skip_time_window")))
}

func TestNewPipelineRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPipeline(reg)
	require.NoError(t, err)

	_, err = NewPipeline(reg)
	assert.Error(t, err, "registering the same collectors twice against one registry must fail")
}
