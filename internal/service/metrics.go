package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xxxsen/convorag/internal/model"
)

// Metrics is optional everywhere; a nil *Metrics records nothing.
type Metrics struct {
	questions        *prometheus.CounterVec
	promptTokens     prometheus.Counter
	completionTokens prometheus.Counter
	estimatedCost    prometheus.Counter
	indexedPoints    prometheus.Counter
	indexDuration    prometheus.Histogram
	indexFailures    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		questions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "convorag_questions_total",
			Help: "Questions answered, by scope and outcome",
		}, []string{"scope", "outcome"}),
		promptTokens: f.NewCounter(prometheus.CounterOpts{
			Name: "convorag_prompt_tokens_total",
			Help: "Estimated prompt tokens sent to the language model",
		}),
		completionTokens: f.NewCounter(prometheus.CounterOpts{
			Name: "convorag_completion_tokens_total",
			Help: "Estimated completion tokens returned by the language model",
		}),
		estimatedCost: f.NewCounter(prometheus.CounterOpts{
			Name: "convorag_estimated_cost_usd_total",
			Help: "Estimated language model spend",
		}),
		indexedPoints: f.NewCounter(prometheus.CounterOpts{
			Name: "convorag_indexed_points_total",
			Help: "Vector points written by the indexer",
		}),
		indexDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "convorag_index_duration_seconds",
			Help:    "Time to index one transcript",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		indexFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "convorag_index_failures_total",
			Help: "Failed transcript indexing runs",
		}),
	}
}

func (m *Metrics) observeQuestion(scope model.Scope, outcome string) {
	if m == nil {
		return
	}
	m.questions.WithLabelValues(string(scope), outcome).Inc()
}

func (m *Metrics) observeUsage(u model.Usage) {
	if m == nil {
		return
	}
	m.promptTokens.Add(float64(u.PromptTokens))
	m.completionTokens.Add(float64(u.CompletionTokens))
	m.estimatedCost.Add(u.EstimatedCost)
}

func (m *Metrics) observeIndex(points int, started time.Time, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.indexFailures.Inc()
		return
	}
	m.indexedPoints.Add(float64(points))
	m.indexDuration.Observe(time.Since(started).Seconds())
}
