// Package metrics собирает метрики слоя данных и отдает их Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/UkralStul/fexora/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder - точки инструментирования, которые вызывают репозитории и шлюз.
type Recorder interface {
	// ObserveStoreOp учитывает вызов хранилища: операцию, исход и длительность.
	ObserveStoreOp(op string, err error, d time.Duration)
	SubscriptionOpened(stream string)
	SubscriptionClosed(stream string)
	IncSnapshot(stream string)
	ObserveFeedRefresh(d time.Duration)
	IncAuthorFallback()
	IncAuthOutcome(op string, err error)
}

// Result возвращает метку исхода: "ok" или вид ошибки.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return string(domain.KindOf(err))
}

// Collector - реализация Recorder поверх Prometheus.
type Collector struct {
	storeOps      *prometheus.CounterVec
	storeLatency  *prometheus.HistogramVec
	subscriptions *prometheus.GaugeVec
	snapshots     *prometheus.CounterVec
	feedRefresh   prometheus.Histogram
	fallbacks     prometheus.Counter
	authOutcomes  *prometheus.CounterVec
}

// NewCollector создает Collector и регистрирует метрики в reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fexora_store_operations_total",
			Help: "Store operations by operation and result.",
		}, []string{"op", "result"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fexora_store_operation_duration_seconds",
			Help:    "Store operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fexora_live_subscriptions",
			Help: "Active live subscriptions by stream.",
		}, []string{"stream"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fexora_live_snapshots_total",
			Help: "Snapshots emitted to live subscriptions.",
		}, []string{"stream"}),
		feedRefresh: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fexora_feed_refresh_duration_seconds",
			Help:    "Time to resolve authors for one feed snapshot.",
			Buckets: prometheus.DefBuckets,
		}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fexora_feed_author_fallbacks_total",
			Help: "Feed entries whose author name came from the post snapshot.",
		}),
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fexora_auth_outcomes_total",
			Help: "Identity gateway outcomes by operation and result.",
		}, []string{"op", "result"}),
	}

	reg.MustRegister(
		c.storeOps,
		c.storeLatency,
		c.subscriptions,
		c.snapshots,
		c.feedRefresh,
		c.fallbacks,
		c.authOutcomes,
	)
	return c
}

func (c *Collector) ObserveStoreOp(op string, err error, d time.Duration) {
	c.storeOps.WithLabelValues(op, Result(err)).Inc()
	c.storeLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (c *Collector) SubscriptionOpened(stream string) {
	c.subscriptions.WithLabelValues(stream).Inc()
}

func (c *Collector) SubscriptionClosed(stream string) {
	c.subscriptions.WithLabelValues(stream).Dec()
}

func (c *Collector) IncSnapshot(stream string) {
	c.snapshots.WithLabelValues(stream).Inc()
}

func (c *Collector) ObserveFeedRefresh(d time.Duration) {
	c.feedRefresh.Observe(d.Seconds())
}

func (c *Collector) IncAuthorFallback() {
	c.fallbacks.Inc()
}

func (c *Collector) IncAuthOutcome(op string, err error) {
	c.authOutcomes.WithLabelValues(op, Result(err)).Inc()
}

// Handler отдает метрики реестра в формате Prometheus.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ Recorder = (*Collector)(nil)
