// Package metrics exposes the process counters on the Prometheus
// registry served by the healthcheck server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tgnews_messages_ingested_total",
		Help: "Raw messages accepted and persisted by the listener.",
	})
	MessagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tgnews_messages_rejected_total",
		Help: "Listener events dropped before persistence, by outcome.",
	}, []string{"outcome"})
	DuplicatesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tgnews_duplicates_detected_total",
		Help: "Candidates rejected by the semantic dedup engine.",
	})
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tgnews_llm_calls_total",
		Help: "Provider calls issued by the selection stage, by result.",
	}, []string{"result"})
	PostsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tgnews_posts_published_total",
		Help: "Digest items that went out to the target channel.",
	})
	ProcessorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tgnews_processor_runs_total",
		Help: "Completed processor runs, by result.",
	}, []string{"result"})
)
