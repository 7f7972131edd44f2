package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "rewards_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	claimTotal   *prometheus.CounterVec
	claimLatency *prometheus.HistogramVec

	pendingTotal   *prometheus.CounterVec
	pendingLatency *prometheus.HistogramVec

	providerFetchTotal *prometheus.CounterVec

	tokensClaimedTotal  prometheus.Counter
	regressionsTotal    prometheus.Counter
	skippedDevicesTotal *prometheus.CounterVec
	claimConflictsTotal prometheus.Counter

	mintSubmitTotal    *prometheus.CounterVec
	eventDispatchTotal *prometheus.CounterVec
)

// Init registers engine metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		claimTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "claim_total",
				Help: "Total claim cycles by result",
			},
			[]string{"result"},
		)
		claimLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "claim_latency_seconds",
				Help:    "Claim cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		pendingTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pending_total",
				Help: "Total pending-rewards reads by result",
			},
			[]string{"result"},
		)
		pendingLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "pending_latency_seconds",
				Help:    "Pending-rewards read latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		providerFetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "provider_fetch_total",
				Help: "Total provider reads by provider and result",
			},
			[]string{"provider", "result"},
		)

		tokensClaimedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "tokens_claimed_total",
				Help: "Total reward tokens claimed",
			},
		)
		regressionsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "baseline_regressions_total",
				Help: "Total baseline regressions clamped to zero",
			},
		)
		skippedDevicesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "skipped_devices_total",
				Help: "Total devices excluded from claim cycles by reason",
			},
			[]string{"reason"},
		)
		claimConflictsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "claim_conflicts_total",
				Help: "Total rejected concurrent claim attempts",
			},
		)

		mintSubmitTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "mint_submit_total",
				Help: "Total mint submissions by result",
			},
			[]string{"result"},
		)

		eventDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_dispatch_total",
				Help: "Total reward events dispatched from the outbox by result",
			},
			[]string{"event_type", "result"},
		)

		prometheus.MustRegister(
			claimTotal,
			claimLatency,
			pendingTotal,
			pendingLatency,
			providerFetchTotal,
			tokensClaimedTotal,
			regressionsTotal,
			skippedDevicesTotal,
			claimConflictsTotal,
			mintSubmitTotal,
			eventDispatchTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveClaim records claim cycle duration and result.
func ObserveClaim(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if claimTotal != nil {
		claimTotal.WithLabelValues(result).Inc()
	}
	if claimLatency != nil {
		claimLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObservePending records pending-read duration and result.
func ObservePending(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if pendingTotal != nil {
		pendingTotal.WithLabelValues(result).Inc()
	}
	if pendingLatency != nil {
		pendingLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncProviderFetch increments the provider read counter.
func IncProviderFetch(provider, result string) {
	if provider == "" {
		provider = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if providerFetchTotal != nil {
		providerFetchTotal.WithLabelValues(provider, result).Inc()
	}
}

// AddTokensClaimed adds claimed tokens to the running counter.
func AddTokensClaimed(tokens int64) {
	if tokens <= 0 {
		return
	}
	if tokensClaimedTotal != nil {
		tokensClaimedTotal.Add(float64(tokens))
	}
}

// IncBaselineRegression increments the regression counter.
func IncBaselineRegression() {
	if regressionsTotal != nil {
		regressionsTotal.Inc()
	}
}

// IncSkippedDevice increments the skipped-device counter.
func IncSkippedDevice(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if skippedDevicesTotal != nil {
		skippedDevicesTotal.WithLabelValues(reason).Inc()
	}
}

// IncClaimConflict increments the concurrent-claim rejection counter.
func IncClaimConflict() {
	if claimConflictsTotal != nil {
		claimConflictsTotal.Inc()
	}
}

// IncMintSubmit increments the mint submission counter.
func IncMintSubmit(result string) {
	if result == "" {
		result = resultSuccess
	}
	if mintSubmitTotal != nil {
		mintSubmitTotal.WithLabelValues(result).Inc()
	}
}

// IncEventDispatch increments the outbox dispatch counter.
func IncEventDispatch(eventType, result string) {
	if eventType == "" {
		eventType = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if eventDispatchTotal != nil {
		eventDispatchTotal.WithLabelValues(eventType, result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
