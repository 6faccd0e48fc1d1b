package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiTokensIn,
		aiTokensOut,
		aiCostMicroUSD,
		aiCallsLatencyMs,
		aiRetries,
		aiActiveStreams,
		aiStreamFragments,
	)
}

var (
	aiTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_in",
			Help: "Sum of prompt (input) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_out",
			Help: "Sum of completion (output) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCostMicroUSD = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_cost_micro_usd",
			Help: "Estimated spend in micro-USD per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "AI call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 30000},
		},
		[]string{"provider", "model", "success"},
	)

	aiRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_retries_total",
			Help: "Backoff retry attempts per provider.",
		},
		[]string{"provider"},
	)

	aiActiveStreams = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ai_active_streams",
			Help: "Streaming calls currently open per provider.",
		},
		[]string{"provider"},
	)

	aiStreamFragments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_stream_fragments_total",
			Help: "Text fragments delivered to streaming consumers per provider.",
		},
		[]string{"provider"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// ObserveChatCall records usage, estimated cost and latency of one
// completed call (buffered or streamed).
func ObserveChatCall(provider, model string, tokensIn, tokensOut int, costMicroUSD int64, latencyMs int64, success bool) {
	lbl := []string{norm(provider), norm(model)}
	aiTokensIn.WithLabelValues(lbl...).Add(float64(tokensIn))
	aiTokensOut.WithLabelValues(lbl...).Add(float64(tokensOut))
	aiCostMicroUSD.WithLabelValues(lbl...).Add(float64(costMicroUSD))
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}

// IncRetry counts one backoff retry attempt.
func IncRetry(provider string) {
	aiRetries.WithLabelValues(norm(provider)).Inc()
}

// StreamOpened / StreamClosed track in-flight streams.
func StreamOpened(provider string) {
	aiActiveStreams.WithLabelValues(norm(provider)).Inc()
}

func StreamClosed(provider string) {
	aiActiveStreams.WithLabelValues(norm(provider)).Dec()
}

// IncStreamFragment counts one fragment handed to a consumer.
func IncStreamFragment(provider string) {
	aiStreamFragments.WithLabelValues(norm(provider)).Inc()
}
