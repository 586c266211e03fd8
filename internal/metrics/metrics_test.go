package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awender/crosstalk/internal/audio"
)

func TestNilMetricsNoop(t *testing.T) {
	var m *Metrics
	m.RecordChunk(audio.SourceMic, 800)
	m.RecordSendFailure(audio.SourceSystem)
	m.RecordSegment(audio.SourceMic, true)
	m.RecordSync(97.2, true)
	m.RecordCallout("fired")
	m.RecordConnect(0.3)
}

func TestCollectorsAppearInScrape(t *testing.T) {
	m := New()
	m.RecordChunk(audio.SourceMic, 800)
	m.RecordSegment(audio.SourceSystem, false)
	m.RecordSync(88.5, true)
	m.RecordCallout("scheduled")
	m.RecordConnect(0.12)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`crosstalk_chunks_sent_total{source="mic"} 1`,
		`crosstalk_segments_total{kind="interim",source="system"} 1`,
		`crosstalk_aec_sync_rate 88.5`,
		`crosstalk_aec_alignment_misses_total 1`,
		`crosstalk_callouts_total{outcome="scheduled"} 1`,
	} {
		require.True(t, strings.Contains(body, want), "scrape missing %q", want)
	}
}

func TestRepeatedConstructionDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}
