package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QuestionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopsight_question_duration_seconds",
			Help:    "End-to-end question processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"intent"},
	)

	QuestionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsight_question_total",
			Help: "Total number of questions processed",
		},
		[]string{"status"},
	)

	ConfidenceLevel = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsight_confidence_level_total",
			Help: "Answers by data-quality confidence level",
		},
		[]string{"level"},
	)

	IntentConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shopsight_intent_confidence",
			Help:    "Classifier confidence distribution",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	RecordsRetrieved = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shopsight_records_retrieved",
			Help:    "Records retrieved from Shopify per question",
			Buckets: []float64{0, 1, 5, 10, 30, 100, 250, 1000},
		},
		[]string{"collection"},
	)

	ShopifyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsight_shopify_requests_total",
			Help: "Shopify Admin API requests",
		},
		[]string{"resource", "status"},
	)

	ShopifyRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsight_shopify_retries_total",
			Help: "Shopify requests retried after throttling or timeouts",
		},
		[]string{"resource"},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsight_llm_requests_total",
			Help: "Reasoning-service requests",
		},
		[]string{"operation", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsight_llm_tokens_used",
			Help: "Total reasoning-service tokens consumed",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsight_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopsight_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	StoresInstalled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shopsight_stores_installed_total",
			Help: "Completed OAuth installations",
		},
	)
)

func Init() {
	prometheus.MustRegister(QuestionDuration)
	prometheus.MustRegister(QuestionTotal)
	prometheus.MustRegister(ConfidenceLevel)
	prometheus.MustRegister(IntentConfidence)
	prometheus.MustRegister(RecordsRetrieved)
	prometheus.MustRegister(ShopifyRequests)
	prometheus.MustRegister(ShopifyRetries)
	prometheus.MustRegister(LLMRequests)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(StoresInstalled)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
