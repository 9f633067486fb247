// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery terminal states plus the transient retry state.
const (
	StateDelivered = "delivered"
	StateSkipped   = "skipped"
	StateRetry     = "retry"
	StateAbandoned = "abandoned"
)

var (
	initOnce sync.Once

	eventsRecordedCounter   *prometheus.CounterVec
	deliveriesCounter       *prometheus.CounterVec
	deliveryRetriesCounter  prometheus.Counter
	webhookRequestsCounter  *prometheus.CounterVec
	webhookDurationMetric   prometheus.Histogram
	queueClaimLatencyMetric prometheus.Histogram
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		eventsRecordedCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_events_recorded_total",
				Help: "Total number of recorded activity events by persistence result.",
			},
			[]string{"persisted"},
		)

		deliveriesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_deliveries_total",
				Help: "Total number of delivery task results by state.",
			},
			[]string{"state"},
		)

		deliveryRetriesCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "activity_delivery_retries_total",
				Help: "Total number of rescheduled delivery attempts.",
			},
		)

		webhookRequestsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activity_webhook_requests_total",
				Help: "Total number of webhook requests by outcome.",
			},
			[]string{"outcome"},
		)

		webhookDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "activity_webhook_request_duration_seconds",
				Help:    "Duration of webhook POST requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		queueClaimLatencyMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "activity_queue_claim_latency_seconds",
				Help:    "Latency of delivery queue claims in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		prometheus.MustRegister(
			eventsRecordedCounter,
			deliveriesCounter,
			deliveryRetriesCounter,
			webhookRequestsCounter,
			webhookDurationMetric,
			queueClaimLatencyMetric,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, state := range []string{StateDelivered, StateSkipped, StateRetry, StateAbandoned} {
			deliveriesCounter.WithLabelValues(state)
		}
		eventsRecordedCounter.WithLabelValues("true")
		eventsRecordedCounter.WithLabelValues("false")
	})
}

func IncEventRecorded(persisted bool) {
	Init()
	eventsRecordedCounter.WithLabelValues(strconv.FormatBool(persisted)).Inc()
}

func IncDelivery(state string) {
	Init()
	deliveriesCounter.WithLabelValues(state).Inc()
}

func IncDeliveryRetries() {
	Init()
	deliveryRetriesCounter.Inc()
}

func ObserveWebhookRequest(outcome string, d time.Duration) {
	Init()
	webhookRequestsCounter.WithLabelValues(outcome).Inc()
	webhookDurationMetric.Observe(d.Seconds())
}

func ObserveQueueClaimLatency(d time.Duration) {
	Init()
	queueClaimLatencyMetric.Observe(d.Seconds())
}
