package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "chat",
		Name:      "turns_total",
		Help:      "Conversational turns by model, mode and outcome",
	}, []string{"model", "mode", "outcome"})

	tokensStreamed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "chat",
		Name:      "tokens_streamed_total",
		Help:      "Tokens relayed to streaming clients",
	}, []string{"model"})

	invokeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatd",
		Subsystem: "chat",
		Name:      "invoke_duration_seconds",
		Help:      "Backend invocation latency",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"model", "mode"})

	registrySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatd",
		Subsystem: "registry",
		Name:      "handles",
		Help:      "Cached model handles",
	})

	templateBuilds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "prompt",
		Name:      "template_builds_total",
		Help:      "Prompt templates constructed",
	})

	admissionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatd",
		Subsystem: "chat",
		Name:      "admission_rejected_total",
		Help:      "Turns rejected by the per-model admission gate",
	}, []string{"model"})
)
