package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"route", "query_type"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"route", "status"},
	)

	TemplateMatches = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_template_match_count",
			Help:    "Number of template matches per query",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	TemplateCompileFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_template_compile_failures_total",
			Help: "Total template compilation failures",
		},
	)

	ValidationRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_validation_rejections_total",
			Help: "Total allowlist validation rejections",
		},
		[]string{"reason"},
	)

	RateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_rate_limit_rejections_total",
			Help: "Total rate limited requests",
		},
		[]string{"status"},
	)

	RetrievalResultsCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_retrieval_results_count",
			Help:    "Number of retrieval results per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"query_type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ExecutedRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_executed_rows",
			Help:    "Rows returned by executed SQL",
			Buckets: []float64{0, 1, 5, 20, 100, 500},
		},
	)

	ContextCompactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_context_compactions_total",
			Help: "Total conversation history compactions",
		},
		[]string{"strategy"},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(TemplateMatches)
	prometheus.MustRegister(TemplateCompileFailures)
	prometheus.MustRegister(ValidationRejections)
	prometheus.MustRegister(RateLimitRejections)
	prometheus.MustRegister(RetrievalResultsCount)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ExecutedRows)
	prometheus.MustRegister(ContextCompactions)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
