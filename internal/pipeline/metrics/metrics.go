package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ParserOutcomes tracks terminal outcomes per raw message
	ParserOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsflow_parser_outcomes_total",
			Help: "Terminal outcomes of raw messages (published, filtered, dead_lettered)",
		},
		[]string{"outcome"},
	)

	// ClassifierCalls tracks remote classifier invocations
	ClassifierCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smsflow_classifier_calls_total",
			Help: "Total number of remote classifier calls",
		},
	)

	// CacheHits tracks cache hits by cached verdict kind
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsflow_parse_cache_hits_total",
			Help: "Parse cache hits by verdict kind",
		},
		[]string{"verdict"},
	)

	// ClassifierLatency tracks classifier call latency
	ClassifierLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smsflow_classifier_latency_seconds",
			Help:    "Classifier call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ProcessingTime tracks end-to-end per-message processing time
	ProcessingTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smsflow_parser_processing_seconds",
			Help:    "Per-message processing time in the parser worker",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DeadLetters tracks dead-lettered messages by error kind
	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsflow_dead_letters_total",
			Help: "Messages routed to the dead-letter stream",
		},
		[]string{"error_kind"},
	)

	// WriterResults tracks persistence writer outcomes
	WriterResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smsflow_writer_results_total",
			Help: "Persistence writer outcomes (inserted, duplicate, failed)",
		},
		[]string{"result"},
	)

	// StreamLag tracks delivered-but-unacked messages per subject
	StreamLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smsflow_stream_lag",
			Help: "Delivered-but-unacknowledged messages per stream subject",
		},
		[]string{"subject"},
	)
)
