package service

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/convorag/internal/model"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.observeQuestion(model.ScopeGlobal, "answered")
	m.observeUsage(model.Usage{PromptTokens: 10})
	m.observeIndex(3, time.Now(), nil)
}

func TestMetrics_Records(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.observeQuestion(model.ScopeFolder, "no_hits")
	m.observeQuestion(model.ScopeFolder, "no_hits")
	m.observeUsage(model.Usage{PromptTokens: 120, CompletionTokens: 30, EstimatedCost: 0.5})
	m.observeIndex(7, time.Now(), nil)
	m.observeIndex(0, time.Now(), errors.New("boom"))

	require.Equal(t, 2.0, testutil.ToFloat64(m.questions.WithLabelValues("folder", "no_hits")))
	require.Equal(t, 120.0, testutil.ToFloat64(m.promptTokens))
	require.Equal(t, 30.0, testutil.ToFloat64(m.completionTokens))
	require.Equal(t, 0.5, testutil.ToFloat64(m.estimatedCost))
	require.Equal(t, 7.0, testutil.ToFloat64(m.indexedPoints))
	require.Equal(t, 1.0, testutil.ToFloat64(m.indexFailures))
}
