package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mnote-agent/internal/llm"
	"github.com/xxxsen/mnote-agent/internal/llm/llmtest"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestInstrumentClient(t *testing.T) {
	c := NewCollector("test")
	fake := &llmtest.Client{ChatFunc: func(ctx context.Context, req llm.ChatRequest) (string, error) {
		if req.Model == "bad" {
			return "", errors.New("boom")
		}
		return "ok", nil
	}}
	client := c.InstrumentClient(fake)
	require.Equal(t, "fake", client.Name())

	_, err := client.Chat(context.Background(), llm.ChatRequest{Model: "good"})
	require.NoError(t, err)
	_, err = client.Chat(context.Background(), llm.ChatRequest{Model: "bad"})
	require.Error(t, err)
	_, err = client.Embed(context.Background(), llm.EmbedRequest{Text: "x"})
	require.NoError(t, err)

	require.Equal(t, 1.0, counterValue(t, c.upstreamCalls.WithLabelValues("fake", "chat", "ok")))
	require.Equal(t, 1.0, counterValue(t, c.upstreamCalls.WithLabelValues("fake", "chat", "error")))
	require.Equal(t, 1.0, counterValue(t, c.upstreamCalls.WithLabelValues("fake", "embed", "ok")))
	require.Nil(t, c.InstrumentClient(nil))
}

func TestRecorders(t *testing.T) {
	c := NewCollector("test")
	c.StageOutcome("retrieve", "degraded")
	c.StageOutcome("retrieve", "degraded")
	observe := c.CacheObserver("node")
	observe(true)
	observe(false)
	observe(false)
	c.ObserveJob("note_resync", time.Second, nil)
	c.ObserveJob("note_resync", time.Second, context.Canceled)

	require.Equal(t, 2.0, counterValue(t, c.stageOutcomes.WithLabelValues("retrieve", "degraded")))
	require.Equal(t, 1.0, counterValue(t, c.cacheLookups.WithLabelValues("node", "hit")))
	require.Equal(t, 2.0, counterValue(t, c.cacheLookups.WithLabelValues("node", "miss")))
	require.Equal(t, 1.0, counterValue(t, c.jobRuns.WithLabelValues("note_resync", "ok")))
	require.Equal(t, 1.0, counterValue(t, c.jobRuns.WithLabelValues("note_resync", "canceled")))
}

func TestHandlerServesOwnRegistry(t *testing.T) {
	a := NewCollector("first")
	b := NewCollector("second")
	a.ObserveHTTP("GET", "/api/v1/notes", 200, time.Millisecond)
	b.ObserveHTTP("GET", "/api/v1/notes", 500, time.Millisecond)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `first_http_requests_total{method="GET",route="/api/v1/notes",status="200"} 1`), body)
	require.NotContains(t, body, "second_")
}
