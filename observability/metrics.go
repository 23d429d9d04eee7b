package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rados-io/saturn-presale/core/events"
	"github.com/rados-io/saturn-presale/native/presale"
)

var (
	presaleMetricsOnce sync.Once
	presaleRegistry    *PresaleMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *HTTPMetrics
)

// PresaleMetrics wraps collectors tracking the sale ledger.
type PresaleMetrics struct {
	sold        prometheus.Gauge
	remaining   prometheus.Gauge
	active      prometheus.Gauge
	purchases   *prometheus.CounterVec
	redemptions *prometheus.CounterVec
	transfers   prometheus.Counter
	rejections  *prometheus.CounterVec
	custody     *prometheus.CounterVec
}

// Presale exposes the lazily-registered ledger metrics.
func Presale() *PresaleMetrics {
	presaleMetricsOnce.Do(func() {
		presaleRegistry = &PresaleMetrics{
			sold: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "saturn",
				Subsystem: "presale",
				Name:      "sold_tokens",
				Help:      "Token units promised across all grants and balances.",
			}),
			remaining: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "saturn",
				Subsystem: "presale",
				Name:      "remaining_tokens",
				Help:      "Token units still available under the hard cap.",
			}),
			active: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "saturn",
				Subsystem: "presale",
				Name:      "active",
				Help:      "Whether the sale is accepting purchases (1) or not (0).",
			}),
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "saturn",
				Subsystem: "presale",
				Name:      "purchases_total",
				Help:      "Successful purchases segmented by tier.",
			}, []string{"tier"}),
			redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "saturn",
				Subsystem: "presale",
				Name:      "redemptions_total",
				Help:      "Successful redemptions segmented by tier.",
			}, []string{"tier"}),
			transfers: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "saturn",
				Subsystem: "presale",
				Name:      "grant_transfers_total",
				Help:      "Grant ownership reassignments.",
			}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "saturn",
				Subsystem: "presale",
				Name:      "rejections_total",
				Help:      "Rejected ledger calls segmented by operation and error code.",
			}, []string{"operation", "code"}),
			custody: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "saturn",
				Subsystem: "presale",
				Name:      "custody_failures_total",
				Help:      "Collaborator transfer failures that forced a rollback.",
			}, []string{"direction"}),
		}
		prometheus.MustRegister(
			presaleRegistry.sold,
			presaleRegistry.remaining,
			presaleRegistry.active,
			presaleRegistry.purchases,
			presaleRegistry.redemptions,
			presaleRegistry.transfers,
			presaleRegistry.rejections,
			presaleRegistry.custody,
		)
	})
	return presaleRegistry
}

// Emit implements events.Emitter so the metrics can sit on the ledger's event
// fan-out.
func (m *PresaleMetrics) Emit(evt events.Event) {
	if m == nil {
		return
	}
	payload := events.PayloadOf(evt)
	if payload == nil {
		return
	}
	tier := payload.Attributes["tier"]
	if tier == "" {
		tier = "aggregate"
	}
	switch payload.Type {
	case presale.EventTypePurchased, presale.EventTypeAccountPurchased:
		m.purchases.WithLabelValues(tier).Inc()
	case presale.EventTypeRedeemed, presale.EventTypeAccountRedeemed:
		m.redemptions.WithLabelValues(tier).Inc()
	case presale.EventTypeGrantTransferred:
		m.transfers.Inc()
	case presale.EventTypeActivated:
		m.active.Set(1)
	case presale.EventTypeEnded:
		m.active.Set(0)
	}
}

// SetSupply records the sold and remaining token units.
func (m *PresaleMetrics) SetSupply(active bool, sold, hardCap *big.Int) {
	if m == nil || sold == nil || hardCap == nil {
		return
	}
	m.sold.Set(bigToFloat(sold))
	m.remaining.Set(bigToFloat(new(big.Int).Sub(hardCap, sold)))
	if active {
		m.active.Set(1)
	} else {
		m.active.Set(0)
	}
}

// RecordRejection counts a failed ledger call. Collaborator failures are also
// counted per direction.
func (m *PresaleMetrics) RecordRejection(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	code := presale.Code(err)
	m.rejections.WithLabelValues(strings.TrimSpace(operation), code).Inc()
	switch code {
	case "payout_failed":
		m.custody.WithLabelValues("payout").Inc()
	case "forward_failed":
		m.custody.WithLabelValues("forward").Inc()
	}
}

func bigToFloat(v *big.Int) float64 {
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 0) {
		return math.MaxFloat64
	}
	return f
}

// HTTPMetrics wraps request collectors for the API surface.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	throttle *prometheus.CounterVec
}

// HTTP exposes the lazily-registered API metrics.
func HTTP() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "saturn",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "API requests segmented by route, method and status.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "saturn",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttle: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "saturn",
				Subsystem: "http",
				Name:      "throttled_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency, httpRegistry.throttle)
	})
	return httpRegistry
}

// Observe records a completed request.
func (m *HTTPMetrics) Observe(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, method, statusLabel(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(d.Seconds())
}

// Throttled records a rate-limited request.
func (m *HTTPMetrics) Throttled(route string) {
	if m == nil {
		return
	}
	m.throttle.WithLabelValues(route).Inc()
}

func statusLabel(status int) string {
	if status <= 0 {
		status = 200
	}
	return big.NewInt(int64(status)).String()
}
